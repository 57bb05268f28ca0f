package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestUpdateFieldsAreCopiedOnWrite(t *testing.T) {
	base := WithUpdateMeta(WithRID(context.Background(), "1:2:3"), 1, 3, 2)
	degraded := MarkDegraded(WithScope(base, "2"))

	if f := FieldsFrom(base); f.Degraded || f.Scope != "" {
		t.Fatalf("parent context mutated: %+v", f)
	}
	f := FieldsFrom(degraded)
	if !f.Degraded || f.Scope != "2" || f.RID != "1:2:3" || f.ChatID != 2 || f.UserID != 3 {
		t.Fatalf("fields = %+v", f)
	}
	if got := WithRole(degraded, ""); got != degraded {
		t.Fatal("empty role should not wrap the context")
	}
}

func TestDegradedAndStaleReachEveryLine(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatKV,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	ctx := MarkStale(MarkDegraded(WithScope(context.Background(), "42")))

	log := slog.New(handler).With("component", "executor")
	LogEvent(ctx, log, slog.LevelInfo, "verification.photo")
	LogEvent(context.Background(), log, slog.LevelInfo, "janitor.purged")
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[0], "degraded=true") || !strings.Contains(lines[0], "stale=true") {
		t.Fatalf("update flags missing: %q", lines[0])
	}
	if strings.Contains(lines[1], "degraded") || strings.Contains(lines[1], "stale") {
		t.Fatalf("flags leaked outside the update: %q", lines[1])
	}
}

func TestComponentLoggerFollowsBase(t *testing.T) {
	prev := L
	defer func() { L = prev }()

	first := &bytes.Buffer{}
	L = slog.New(slog.NewTextHandler(first, nil))
	if Component("session") != Component("session") {
		t.Fatal("component logger not cached")
	}
	Info(context.Background(), "session", "session.committed")

	second := &bytes.Buffer{}
	L = slog.New(slog.NewTextHandler(second, nil))
	Info(context.Background(), "session", "session.committed")

	if !strings.Contains(first.String(), "component=session") || !strings.Contains(second.String(), "component=session") {
		t.Fatalf("component lost after base swap: %q / %q", first.String(), second.String())
	}
	if strings.Count(first.String(), "\n") != 1 {
		t.Fatalf("cached logger kept writing to the old base: %q", first.String())
	}
}

func TestSanitizeLimit(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"he\x00llo\u200b", 10, "hello"},
		{"tab\tand\nline", 20, "tab\tand\nline"},
		{"Привет мир", 6, "Привет"},
		{"anything", 0, ""},
	}
	for _, tc := range cases {
		if got := SanitizeLimit(tc.in, tc.limit); got != tc.want {
			t.Fatalf("SanitizeLimit(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestRawKeepsBytesRecoverable(t *testing.T) {
	buf := &bytes.Buffer{}
	log := slog.New(slog.NewJSONHandler(buf, nil))
	log.LogAttrs(context.Background(), slog.LevelWarn, "session.decode_failed", Raw("raw", []byte{0xff, '{'}))
	out := buf.String()
	if !strings.Contains(out, `"raw":"/3s="`) || !strings.Contains(out, `"raw_bytes":2`) {
		t.Fatalf("raw attr = %s", out)
	}
}

func TestNormalizeEnumerations(t *testing.T) {
	fields := map[string]any{"status": "Degraded", "outcome": "exploded", "source": " Cache "}
	normalizeEnumerations(fields)
	if fields["status"] != "degraded" || fields["source"] != "cache" {
		t.Fatalf("fields = %v", fields)
	}
	if _, ok := fields["outcome"]; ok {
		t.Fatal("unknown outcome should be dropped")
	}

	fields = map[string]any{"status": "custom"}
	normalizeEnumerations(fields)
	if fields["status"] != "custom" {
		t.Fatalf("unknown status should be kept, got %v", fields["status"])
	}
	for in, want := range map[string]string{"INFO": "INFO", "WARN+2": "WARN", "DEBUG-4": "DEBUG", "warning": "WARN", "": "INFO"} {
		if got := normalizeLevel(in); got != want {
			t.Fatalf("normalizeLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
