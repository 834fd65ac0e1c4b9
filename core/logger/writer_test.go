package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestAsyncWriterFansOutInOrder(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	w := newAsyncWriter([]io.Writer{a, nil, b}, 4)
	for i := 0; i < 50; i++ {
		if err := w.Write([]byte(fmt.Sprintf("line %d\n", i))); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(a.String()), "\n")
	if len(lines) != 50 || lines[0] != "line 0" || lines[49] != "line 49" {
		t.Fatalf("unexpected output: %q", a.String())
	}
	if a.String() != b.String() {
		t.Fatalf("sinks diverged")
	}
	if err := w.Write([]byte("late\n")); err == nil {
		t.Fatalf("write after close should fail")
	}
}

type failingSink struct{}

func (failingSink) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAsyncWriterKeepsFirstError(t *testing.T) {
	ok := &bytes.Buffer{}
	w := newAsyncWriter([]io.Writer{failingSink{}, ok}, 1)
	_ = w.Write([]byte("x\n"))
	err := w.Close()
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink error, got %v", err)
	}
	if ok.String() != "x\n" {
		t.Fatalf("healthy sink should still receive the line, got %q", ok.String())
	}
}

func TestEventSamplerIsPerEvent(t *testing.T) {
	s := newEventSampler(1, 3)
	var pings, accepted int
	for i := 0; i < 9; i++ {
		if s.Allow("event.ping") {
			pings++
		}
	}
	for i := 0; i < 3; i++ {
		if s.Allow("webhook.accepted") {
			accepted++
		}
	}
	if pings != 3 || accepted != 1 {
		t.Fatalf("pings=%d accepted=%d", pings, accepted)
	}

	s.Set(0, 0)
	if !s.Allow("event.ping") {
		t.Fatalf("disabled sampler must allow everything")
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"":     {0, 0},
		"1/10": {1, 10},
		"25":   {1, 25},
		"0":    {0, 0},
		"a/b":  {0, 0},
		"x":    {0, 0},
	}
	for spec, want := range cases {
		keep, every := parseRatioSpec(spec)
		if keep != want[0] || every != want[1] {
			t.Fatalf("parseRatioSpec(%q) = %d/%d, want %d/%d", spec, keep, every, want[0], want[1])
		}
	}
}

func TestHandlerSamplesDebugLines(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 16)
	h := newStructuredHandler(handlerConfig{
		level:   slog.LevelDebug,
		writer:  aw,
		format:  formatKV,
		sampler: newEventSampler(1, 2),
	})
	log := slog.New(h)
	for i := 0; i < 4; i++ {
		LogEvent(context.Background(), log, slog.LevelDebug, "event.ping")
	}
	LogEvent(context.Background(), log, slog.LevelInfo, "event.handled")
	drain(t, aw)

	if got := strings.Count(buf.String(), "event=event.ping"); got != 2 {
		t.Fatalf("expected 2 sampled debug lines, got %d: %s", got, buf.String())
	}
	if !strings.Contains(buf.String(), "event=event.handled") {
		t.Fatalf("info lines are never sampled: %s", buf.String())
	}
}
