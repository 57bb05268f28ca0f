package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/dispatchbot/core/buildinfo"
	coreconfig "github.com/m3rciful/dispatchbot/core/config"
)

var (
	// L is the base logger. It discards output until InitLogger runs so that
	// packages and tests can log before (or without) bootstrap.
	L = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))

	initOnce sync.Once
	levelVar slog.LevelVar

	debugSampler  = newRatioSampler(1, 50)
	traceOverride bool

	sinksMu  sync.Mutex
	sinks    []*asyncWriter
	closers  []io.Closer
	shutdown bool

	components sync.Map // name -> componentLogger
)

type componentLogger struct {
	base *slog.Logger
	log  *slog.Logger
}

// settings is the logging section resolved to concrete values.
type settings struct {
	level      slog.Level
	format     logFormat
	order      []string
	sampleNum  int
	sampleDen  int
	profile    string
	botFile    string
	errorsFile string
}

func settingsFrom(cfg *coreconfig.Config) settings {
	s := settings{
		level:     slog.LevelInfo,
		format:    formatJSON,
		order:     append([]string(nil), defaultKeyOrder...),
		sampleNum: 1,
		sampleDen: 50,
		profile:   "prod",
	}
	if cfg == nil {
		return s
	}
	lc := cfg.Logging

	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		s.level = slog.LevelDebug
	case "warn", "warning":
		s.level = slog.LevelWarn
	case "error":
		s.level = slog.LevelError
	}

	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		s.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		s.format = formatKV
	case "json":
	default:
		if s.profile == "debug" || s.profile == "dev" {
			s.format = formatKV
		}
	}

	if raw := strings.TrimSpace(lc.KeysOrder); raw != "" && raw != "default" {
		var order []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				order = append(order, k)
			}
		}
		if len(order) > 0 {
			s.order = order
		}
	}

	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		// An explicit "0" disables sampling; anything else unparsable keeps the default.
		switch num, den := parseRatioSpec(spec); {
		case num > 0 && den > 0:
			s.sampleNum, s.sampleDen = num, den
		case spec == "0" || spec == "0/0":
			s.sampleNum, s.sampleDen = 0, 0
		}
	}

	if dir := strings.TrimSpace(lc.Dir); dir != "" {
		if f := strings.TrimSpace(lc.BotFile); f != "" {
			s.botFile = filepath.Join(dir, f)
		}
		if f := strings.TrimSpace(lc.ErrorsFile); f != "" {
			s.errorsFile = filepath.Join(dir, f)
		}
	}
	return s
}

// InitLogger installs the structured handler as L and slog's default. Only the
// first call has an effect. Log files that cannot be opened are reported through
// the new logger and skipped.
func InitLogger(cfg *coreconfig.Config) error {
	initOnce.Do(func() {
		s := settingsFrom(cfg)
		levelVar.Set(s.level)
		debugSampler.Set(s.sampleNum, s.sampleDen)
		traceOverride = isTruthy(os.Getenv("TRACE")) || isTruthy(os.Getenv("LOG_TRACE"))

		var fileErrs []error
		open := func(path string) io.Writer {
			if path == "" {
				return nil
			}
			f, err := openLogFile(path)
			if err != nil {
				fileErrs = append(fileErrs, err)
				return nil
			}
			closers = append(closers, f)
			return f
		}

		out := newAsyncWriter([]io.Writer{os.Stdout, open(s.botFile)}, 64*1024)
		sinks = append(sinks, out)
		var errSink *asyncWriter
		if w := open(s.errorsFile); w != nil {
			errSink = newAsyncWriter([]io.Writer{w}, 16*1024)
			sinks = append(sinks, errSink)
		}

		L = slog.New(newStructuredHandler(handlerConfig{
			level:     &levelVar,
			writer:    out,
			errWriter: errSink,
			format:    s.format,
			keyOrder:  s.order,
		}))
		slog.SetDefault(L)

		L.LogAttrs(context.Background(), slog.LevelInfo, "startup",
			slog.String("component", "app"),
			slog.String("event", "startup"),
			slog.String("go_version", runtime.Version()),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("build_time", buildinfo.Date),
			slog.String("cfg_profile", s.profile),
		)
		for _, err := range fileErrs {
			Warn(context.Background(), "app", "log.file_failed", slog.String("err", err.Error()))
		}
	})
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logger: create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %w", path, err)
	}
	return f, nil
}

// Shutdown drains every sink and closes log files. Later calls are no-ops.
func Shutdown() error {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	if shutdown {
		return nil
	}
	shutdown = true

	var errs []error
	for _, w := range sinks {
		errs = append(errs, w.Close())
	}
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Component returns L scoped to a component name. Loggers are cached per name
// and rebuilt when L is replaced.
func Component(name string) *slog.Logger {
	base := L
	name = strings.TrimSpace(name)
	if base == nil || name == "" {
		return base
	}
	if v, ok := components.Load(name); ok {
		if c := v.(componentLogger); c.base == base {
			return c.log
		}
	}
	c := componentLogger{base: base, log: base.With("component", name)}
	components.Store(name, c)
	return c.log
}

// LogEvent logs attrs with the event attribute first, resolving the logger from ctx when logg is nil.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if logg == nil {
		return
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Event logs through the named component logger.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), level, event, attrs...)
}

// Debug logs a debug-level event for the given component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs an info-level event for the given component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs a warn-level event for the given component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs an error-level event for the given component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ShouldSampleDebug reports whether a high-volume debug line should be written.
// TRACE=1 disables sampling.
func ShouldSampleDebug() bool {
	return traceOverride || debugSampler.Allow()
}
