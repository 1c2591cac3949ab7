package bootstrap

import (
	"context"
	"fmt"

	coreconfig "github.com/m3rciful/botengine/core/config"
	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/seed"
)

// Seeder loads reference data into the store.
type Seeder interface {
	Seed(ctx context.Context, store engine.Store, registry *engine.Registry) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc func(ctx context.Context, store engine.Store, registry *engine.Registry) error

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, store engine.Store, registry *engine.Registry) error {
	return f(ctx, store, registry)
}

// HandlerModule contributes handlers to the registry.
type HandlerModule interface {
	RegisterHandlers(r *engine.Registry) error
}

// HandlerModuleFunc adapts a function to the HandlerModule interface.
type HandlerModuleFunc func(r *engine.Registry) error

// RegisterHandlers executes the underlying function.
func (f HandlerModuleFunc) RegisterHandlers(r *engine.Registry) error { return f(r) }

// Handlers registers fixed handlers by key.
func Handlers(handlers map[string]engine.HandlerFunc) HandlerModule {
	return HandlerModuleFunc(func(r *engine.Registry) error {
		for key, fn := range handlers {
			if err := r.Register(key, fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// FileSeeder applies the YAML seed file at path. Handler keys named in the
// file must already be registered.
func FileSeeder(path string) Seeder {
	return SeederFunc(func(ctx context.Context, store engine.Store, registry *engine.Registry) error {
		f, err := seed.Load(path)
		if err != nil {
			return err
		}
		if err := registry.Validate(f.HandlerKeys()...); err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		_, err = seed.Apply(ctx, store, f)
		return err
	})
}

// Modules groups optional bootstrapping hooks for handlers and seeding.
// Handlers run before seeders so that seeds can be validated.
type Modules struct {
	Handlers []HandlerModule
	Seeders  []Seeder
}

func (m Modules) apply(ctx context.Context, cfg *coreconfig.Config, res *Result) error {
	for _, h := range m.Handlers {
		if err := h.RegisterHandlers(res.Registry); err != nil {
			return fmt.Errorf("register handlers: %w", err)
		}
	}
	seeders := m.Seeders
	if cfg.Seed.Path != "" {
		seeders = append([]Seeder{FileSeeder(cfg.Seed.Path)}, seeders...)
	}
	for _, s := range seeders {
		if err := s.Seed(ctx, res.Store, res.Registry); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}
