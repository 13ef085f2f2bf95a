package web

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type row struct {
	ID, Remote, Target string
	Started            time.Time
}

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, "dashboard", map[string]any{
		"Active":   1,
		"Total":    3,
		"Rejected": 0,
		"Ends":     map[string]int64{"idle_timeout": 2},
		"Sessions": []row{{ID: "abc", Remote: "127.0.0.1:5000", Target: "10.0.0.1:80", Started: time.Now()}},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"active 1", "idle_timeout", "abc", "10.0.0.1:80"} {
		if !strings.Contains(out, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
}

func TestRenderUnknownFallsBackToBase(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, "missing", nil); err != nil {
		t.Fatalf("fallback failed: %v", err)
	}
	if !strings.Contains(buf.String(), "<title>tcprelay</title>") {
		t.Fatalf("unexpected fallback output %q", buf.String())
	}
}
