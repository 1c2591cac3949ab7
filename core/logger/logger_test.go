package logger

import (
	"log/slog"
	"path/filepath"
	"testing"

	coreconfig "github.com/m3rciful/botengine/core/config"
)

func TestResolveOptionsDefaults(t *testing.T) {
	o := resolveOptions(nil)
	if o.format != formatJSON || o.level != slog.LevelInfo || o.profile != "prod" {
		t.Fatalf("defaults = %+v", o)
	}
	if o.sample != [2]int{1, 50} || len(o.order) != len(defaultKeyOrder) {
		t.Fatalf("sample/order = %v %v", o.sample, o.order)
	}
}

func TestResolveOptionsFromConfig(t *testing.T) {
	cfg := &coreconfig.Config{Logging: coreconfig.LoggingConfig{
		Level:       "warning",
		Profile:     "Debug",
		KeysOrder:   " ts, event ,,level",
		DebugSample: "2/10",
		Dir:         "/var/log/bot",
		File:        "engine.log",
	}}
	cfg.Storage.Driver = coreconfig.StorageMemory

	o := resolveOptions(cfg)
	if o.format != formatKV {
		t.Fatalf("debug profile should default to kv, got %s", o.format)
	}
	if o.level != slog.LevelWarn || o.profile != "debug" || o.storage != "memory" {
		t.Fatalf("options = %+v", o)
	}
	if len(o.order) != 3 || o.order[1] != "event" {
		t.Fatalf("order = %v", o.order)
	}
	if o.sample != [2]int{2, 10} {
		t.Fatalf("sample = %v", o.sample)
	}
	if o.filePath != filepath.Join("/var/log/bot", "engine.log") {
		t.Fatalf("file path = %q", o.filePath)
	}

	cfg.Logging.Format = "json"
	cfg.Logging.DebugSample = "off"
	o = resolveOptions(cfg)
	if o.format != formatJSON || o.sample != [2]int{0, 0} {
		t.Fatalf("explicit json/off = %s %v", o.format, o.sample)
	}
}
