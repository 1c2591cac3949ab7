// Command botengine serves messenger webhooks for the configured bots.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/m3rciful/botengine/core/bootstrap"
	corecmd "github.com/m3rciful/botengine/core/cmd"
	coreconfig "github.com/m3rciful/botengine/core/config"
	coredatabase "github.com/m3rciful/botengine/core/database"
	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/httpapi"
	"github.com/m3rciful/botengine/core/messenger"
	"github.com/m3rciful/botengine/core/worker"
)

type appConfig struct {
	coreconfig.Config `yaml:",inline"`
	Database          coredatabase.Config `yaml:"database"`
}

func (c *appConfig) CoreConfig() *coreconfig.Config { return &c.Config }

func loadConfig(path string) (corecmd.ConfigCarrier, error) {
	var cfg appConfig
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type app struct {
	server *http.Server
	jobs   *worker.Pool
	infra  *bootstrap.Result
}

func (a *app) Server() *http.Server { return a.server }

func (a *app) Close() error {
	a.jobs.Close()
	return a.infra.Close()
}

func bootstrapApp(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.App, error) {
	cfg, ok := carrier.(*appConfig)
	if !ok {
		return nil, errors.New("unexpected config type")
	}
	if cfg.Logging.Profile != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: &cfg.Config, Database: cfg.Database})
	if err != nil {
		return nil, err
	}

	jobs := worker.New(worker.Options{Workers: cfg.Dispatch.Workers, QueueSize: cfg.Dispatch.QueueSize})
	adapters := messenger.NewProvider(messenger.Settings{
		PublicURL:    cfg.HTTP.PublicURL,
		KeyboardText: cfg.Dispatch.KeyboardText,
		Menus:        infra.Store.Menus(),

		AllowUnsigned: cfg.Dispatch.AllowUnsignedViber,
	})
	dispatcher := engine.NewDispatcher(infra.Store, adapters, infra.Registry, engine.Options{
		ProfileRefreshTimeout: cfg.Dispatch.ProfileRefreshTimeout(),
		AsyncProfileRefresh:   cfg.Dispatch.AsyncProfileRefresh,
		Jobs:                  jobs,
	})

	handler := httpapi.NewHandler(dispatcher, infra.Store.Messengers(), adapters, cfg.HTTP.PublicURL)
	router := httpapi.NewRouter(handler, cfg.Config)
	return &app{
		server: httpapi.NewServer(cfg.HTTP, router),
		jobs:   jobs,
		infra:  infra,
	}, nil
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        loadConfig,
		Bootstrap:         bootstrapApp,
	})
	if err != nil {
		log.Fatal(fmt.Errorf("botengine: %w", err))
	}
}
