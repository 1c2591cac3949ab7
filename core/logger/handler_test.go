package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestHandler(buf *bytes.Buffer, format logFormat) (*structuredHandler, *asyncWriter) {
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	return newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	}), aw
}

func drain(t *testing.T, aw *asyncWriter, buf *bytes.Buffer) string {
	t.Helper()
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return strings.TrimSpace(buf.String())
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)

	ctx := WithRID(context.Background(), "7:42:1")
	ctx = WithConversation(ctx, 7, "42")

	log := slog.New(handler).With("component", "engine.dispatch")
	LogEvent(ctx, log, slog.LevelInfo, "message.received",
		slog.String("status", "OK"),
		slog.String("kind", "text"),
	)

	line := drain(t, aw, buf)
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=engine.dispatch", "event=message.received", "status=ok", "rid=7:42:1", "messenger_id=7", "sender_id=42", "kind=text"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)

	ctx := WithRID(context.Background(), "rid-json")
	ctx = WithHandler(ctx, "echo")

	log := slog.New(handler).With("component", "engine.registry")
	LogEvent(ctx, log, slog.LevelError, "handler.failed",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
	)

	line := drain(t, aw, buf)
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"engine.registry"`, `"event":"handler.failed"`, `"status":"fail"`, `"rid":"rid-json"`, `"ts_unix_nano"`, `"handler":"echo"`, `"err":"boom"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerDropsUnknownOutcome(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)

	log := slog.New(handler)
	LogEvent(context.Background(), log, slog.LevelWarn, "button.resolve",
		slog.String("outcome", "weird"),
		slog.Duration("duration", 1500*time.Microsecond),
		slog.String("empty", ""),
	)

	line := drain(t, aw, buf)
	if strings.Contains(line, "outcome=") {
		t.Fatalf("unknown outcome should be dropped, got %s", line)
	}
	if strings.Contains(line, "empty=") {
		t.Fatalf("empty strings should be pruned, got %s", line)
	}
	if !strings.Contains(line, "duration_ms=2") {
		t.Fatalf("expected rounded duration_ms, got %s", line)
	}
	if !strings.Contains(line, "component=app") {
		t.Fatalf("expected default component, got %s", line)
	}
}

func TestStructuredHandlerQuotesKVValues(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)

	slog.New(handler).Info("", slog.String("event", "text.echo"), slog.String("cause", `say "hi" now`))

	line := drain(t, aw, buf)
	if !strings.Contains(line, `cause="say \"hi\" now"`) {
		t.Fatalf("expected quoted value, got %s", line)
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("he\x00llo\u200b world", 5); got != "hello" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if got := BuildRID(3, "", 9); got != "3:-:9" {
		t.Fatalf("BuildRID = %q", got)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	var allowed int
	for i := 0; i < 9; i++ {
		if s.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed = %d, want 3", allowed)
	}
	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("disabled sampler should allow everything")
	}
}
