package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	coreconfig "github.com/m3rciful/dispatchbot/core/config"
)

func TestSettingsFromConfig(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Logging = coreconfig.LoggingConfig{
		Level:       "warning",
		KeysOrder:   "event, ,component",
		DebugSample: "0",
		Dir:         "logs",
		BotFile:     "bot.log",
		ErrorsFile:  "errors.log",
		Profile:     "dev",
	}
	s := settingsFrom(cfg)
	if s.level != slog.LevelWarn {
		t.Fatalf("level = %v, want WARN", s.level)
	}
	if s.format != formatKV {
		t.Fatalf("format = %q, want kv for dev profile", s.format)
	}
	if strings.Join(s.order, ",") != "event,component" {
		t.Fatalf("order = %v", s.order)
	}
	if s.sampleNum != 0 || s.sampleDen != 0 {
		t.Fatalf("sample = %d/%d, want disabled", s.sampleNum, s.sampleDen)
	}
	if s.botFile != filepath.Join("logs", "bot.log") || s.errorsFile != filepath.Join("logs", "errors.log") {
		t.Fatalf("files = %q %q", s.botFile, s.errorsFile)
	}

	def := settingsFrom(nil)
	if def.level != slog.LevelInfo || def.format != formatJSON || def.sampleDen != 50 {
		t.Fatalf("defaults = %+v", def)
	}
	if def.botFile != "" || def.errorsFile != "" {
		t.Fatalf("files without dir = %q %q", def.botFile, def.errorsFile)
	}
}

func TestErrorSinkReceivesWarnAndAbove(t *testing.T) {
	var all, errs bytes.Buffer
	main := newAsyncWriter([]io.Writer{&all}, 1024)
	errSink := newAsyncWriter([]io.Writer{&errs}, 1024)
	log := slog.New(newStructuredHandler(handlerConfig{
		level:     slog.LevelDebug,
		writer:    main,
		errWriter: errSink,
		format:    formatKV,
	})).With("component", "app")

	ctx := context.Background()
	LogEvent(ctx, log, slog.LevelInfo, "order.created")
	LogEvent(ctx, log, slog.LevelWarn, "session.degraded")
	LogEvent(ctx, log, slog.LevelError, "payment.failed")
	if err := main.Close(); err != nil {
		t.Fatalf("close main: %v", err)
	}
	if err := errSink.Close(); err != nil {
		t.Fatalf("close errors: %v", err)
	}

	if n := strings.Count(all.String(), "\n"); n != 3 {
		t.Fatalf("main sink lines = %d, want 3:\n%s", n, all.String())
	}
	got := errs.String()
	if strings.Contains(got, "order.created") {
		t.Fatalf("info line reached error sink:\n%s", got)
	}
	if !strings.Contains(got, "event=session.degraded") || !strings.Contains(got, "event=payment.failed") {
		t.Fatalf("error sink missing lines:\n%s", got)
	}
}
