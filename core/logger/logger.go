package logger

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/botengine/core/buildinfo"
	coreconfig "github.com/m3rciful/botengine/core/config"
)

const asyncBufferSize = 64 * 1024

var (
	initOnce sync.Once

	sinksMu sync.Mutex
	sinks   *outputSinks

	levelVar      slog.LevelVar
	debugSampler  = newRatioSampler(1, 50)
	traceOverride bool

	// L is the base logger; component loggers below are derived from it.
	L = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// DB logs database connection events.
	DB = Component("db")
	// MIG logs database migration events.
	MIG = Component("db.migrate")
	// SEED logs seeding of messengers, menus and buttons.
	SEED = Component("db.seed")
	// HTTP logs webhook transport events.
	HTTP = Component("http")
)

// options is the logging setup resolved from configuration.
type options struct {
	format   logFormat
	order    []string
	level    slog.Level
	profile  string
	storage  string
	sample   [2]int
	filePath string
}

func resolveOptions(cfg *coreconfig.Config) options {
	o := options{
		format:  formatJSON,
		order:   append([]string(nil), defaultKeyOrder...),
		level:   slog.LevelInfo,
		profile: "prod",
		sample:  [2]int{1, 50},
	}
	if cfg == nil {
		return o
	}
	lc := cfg.Logging
	o.storage = cfg.Storage.Driver
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		o.profile = p
	}

	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		o.format = formatKV
	case "json":
	default:
		if o.profile == "debug" || o.profile == "dev" {
			o.format = formatKV
		}
	}

	if order := splitKeys(lc.KeysOrder); len(order) > 0 {
		o.order = order
	}

	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		o.level = slog.LevelDebug
	case "warn", "warning":
		o.level = slog.LevelWarn
	case "error":
		o.level = slog.LevelError
	}

	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		switch num, den := parseRatioSpec(spec); {
		case num == 0 && den == 0:
			o.sample = [2]int{0, 0}
		case num > 0 && den > 0:
			o.sample = [2]int{num, den}
		}
	}

	if dir, file := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.File); dir != "" && file != "" {
		o.filePath = filepath.Join(dir, file)
	}
	return o
}

func splitKeys(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "default" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// InitLogger configures the global structured logger. Later calls are no-ops.
func InitLogger(cfg *coreconfig.Config) error {
	initOnce.Do(func() {
		o := resolveOptions(cfg)
		levelVar.Set(o.level)
		debugSampler.Set(o.sample[0], o.sample[1])
		traceOverride = isTruthy(os.Getenv("TRACE")) || isTruthy(os.Getenv("LOG_TRACE"))

		s := openSinks(o.filePath)
		sinksMu.Lock()
		sinks = s
		sinksMu.Unlock()

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &levelVar,
			writer:   s.async,
			format:   o.format,
			keyOrder: o.order,
		}))
		slog.SetDefault(L)
		DB, MIG, SEED, HTTP = Component("db"), Component("db.migrate"), Component("db.seed"), Component("http")

		L.LogAttrs(context.Background(), slog.LevelInfo, "startup",
			slog.String("component", "app"),
			slog.String("event", "startup"),
			slog.String("go_version", runtime.Version()),
			slog.String("build_version", buildinfo.Version),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("build_time", buildinfo.Date),
			slog.String("cfg_profile", o.profile),
			slog.String("storage", o.storage),
		)
	})
	return nil
}

// outputSinks is stdout plus an optional append-only log file behind one async writer.
type outputSinks struct {
	async *asyncWriter
	file  io.Closer
}

func openSinks(path string) *outputSinks {
	writers := []io.Writer{os.Stdout}
	s := &outputSinks{}
	if path != "" {
		if f, err := openLogFile(path); err != nil {
			log.Printf("logger: %v", err)
		} else {
			writers = append(writers, f)
			s.file = f
		}
	}
	s.async = newAsyncWriter(writers, asyncBufferSize)
	return s
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Shutdown flushes buffered log output and closes opened sinks. It is idempotent.
func Shutdown() error {
	sinksMu.Lock()
	s := sinks
	sinks = nil
	sinksMu.Unlock()
	if s == nil {
		return nil
	}
	var errs []error
	errs = append(errs, s.async.Flush(), s.async.Close())
	if s.file != nil {
		errs = append(errs, s.file.Close())
	}
	return errors.Join(errs...)
}

// LogEvent writes a record carrying the event attribute through logg, or
// through the context logger when logg is nil.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logg == nil {
		logg = FromContext(ctx)
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns L scoped to a component name.
func Component(name string) *slog.Logger {
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Event logs through the context logger scoped to component.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	logg := FromContext(ctx)
	if c := strings.TrimSpace(component); c != "" {
		logg = logg.With("component", c)
	}
	LogEvent(ctx, logg, level, event, attrs...)
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

// ShouldSampleDebug reports whether a high-volume debug record should be
// written. TRACE=1 lets everything through.
func ShouldSampleDebug() bool {
	if traceOverride {
		return true
	}
	return debugSampler.Allow()
}
