package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func TestLogLineIsJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Info("session.end", Fields{"id": "abc", "err": errors.New("boom"), "bytes": 5})

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if got["msg"] != "session.end" || got["level"] != "info" {
		t.Fatalf("unexpected line %v", got)
	}
	if got["err"] != "boom" {
		t.Fatalf("error field not rendered as string: %v", got["err"])
	}
	if _, ok := got["ts"]; !ok {
		t.Fatal("missing ts")
	}
}

func TestDebugToggle(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer EnableDebug(false)

	Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug logged while disabled: %q", buf.String())
	}
	EnableDebug(true)
	Debug("shown", nil)
	if !bytes.Contains(buf.Bytes(), []byte(`"shown"`)) {
		t.Fatalf("debug line missing: %q", buf.String())
	}
}

func TestFieldsNotMutated(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	f := Fields{"id": "x"}
	Warn("w", f)
	if len(f) != 1 {
		t.Fatalf("caller fields mutated: %v", f)
	}
}
