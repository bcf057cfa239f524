package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestWithKeepsFieldsAndCaller(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int64("owner", 7), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("bad json %q: %v", buf.String(), err)
	}
	if m["comp"] != "test" || m["owner"].(float64) != 7 {
		t.Fatalf("missing fields: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should not be logged: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller=%q", c)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("dropped")
	if Nop().IsZero() {
		t.Fatalf("Nop is not zero")
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	got := formatChatLine([]byte(`{"level":"warn","message":"fire failed","time":"x","owner":5,"job":"a"}`))
	want := "[WARN] fire failed\n- job=a\n- owner=5"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := formatChatLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("raw line: %q", got)
	}
}
