package message

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestReadMessages(t *testing.T) {
	r := NewReader(strings.NewReader("hello|world||tail"), DefaultDelimiter, 0)
	want := []string{"hello", "world", ""}
	for _, w := range want {
		got, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != w {
			t.Fatalf("got %q, want %q", got, w)
		}
	}
	if _, err := r.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF for the partial tail, got %v", err)
	}
}

func TestReadMessageAcrossChunks(t *testing.T) {
	r := NewReader(iotest.OneByteReader(strings.NewReader("split message|next|")), '|', 0)
	for _, w := range []string{"split message", "next"} {
		got, err := r.ReadMessage()
		if err != nil || got != w {
			t.Fatalf("got %q err=%v, want %q", got, err, w)
		}
	}
}

func TestReadMessageTooLong(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("x", 64)+"|"), '|', 16)
	if _, err := r.ReadMessage(); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestCustomDelimiter(t *testing.T) {
	r := NewReader(strings.NewReader("a\nb\n"), '\n', 0)
	got, err := r.ReadMessage()
	if err != nil || got != "a" {
		t.Fatalf("got %q err=%v", got, err)
	}
}
