// Package app wires configuration, storage layout, the allocator, the fetch
// coordinator and the console server into one runnable daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"riffle/internal/allocator"
	"riffle/internal/config"
	"riffle/internal/console"
	"riffle/internal/feed"
	"riffle/internal/fetch"
	"riffle/internal/layout"
	"riffle/internal/merge"
)

type App struct {
	server  *console.Server
	coord   *fetch.Coordinator
	staging *merge.Staging
	dirs    *layout.Dirs
	log     *zap.Logger

	cancelFetch context.CancelFunc
	fetchDone   chan error
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return build(cfg)
}

func build(cfg *config.Config) (*App, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Env, "local") {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dirs, err := layout.NewDirs(cfg.LocalDirs, log)
	if err != nil {
		return nil, err
	}

	staging := merge.NewStaging()
	hub := feed.NewHub(cfg.FeedBuffer)
	alloc := allocator.NewManager(allocator.Config{
		Budget:    cfg.Memory.BudgetBytes,
		MaxSingle: cfg.Memory.MaxSingleBytes,
	}, layout.DiskFS{}, dirs, staging, hub, log)

	source, err := newSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	coord := fetch.NewCoordinator(fetch.Config{
		Workers:    cfg.Fetch.Workers,
		QueueDepth: cfg.Fetch.QueueDepth,
	}, alloc, source, hub, log)

	c := console.New(alloc, coord, staging, hub, log)
	srv := console.NewServer(cfg.Listen, c.Handler(), log)

	log.Info("riffle daemon assembled",
		zap.String("listen", cfg.Listen),
		zap.Strings("localDirs", cfg.LocalDirs),
		zap.Int64("memoryBudget", cfg.Memory.BudgetBytes),
		zap.Int("fetchWorkers", cfg.Fetch.Workers))

	return &App{
		server:  srv,
		coord:   coord,
		staging: staging,
		dirs:    dirs,
		log:     log,
	}, nil
}

func newSource(cfg config.SourceConfig) (fetch.Source, error) {
	if cfg.HTTPBase != "" {
		return fetch.NewHTTPSource(cfg.HTTPBase, &http.Client{})
	}
	if cfg.Object.Enabled {
		return fetch.NewObjectSource(fetch.ObjectConfig{
			Endpoint:         cfg.Object.Endpoint,
			Region:           cfg.Object.Region,
			AccessKey:        cfg.Object.AccessKey,
			SecretKey:        cfg.Object.SecretKey,
			Bucket:           cfg.Object.Bucket,
			UseSSL:           cfg.Object.UseSSL,
			SizeCacheEntries: cfg.Object.SizeCacheEntries,
		})
	}
	return nil, errors.New("app: no spill source configured")
}

// Start launches the fetch workers and blocks serving the console until
// Shutdown is called.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelFetch = cancel
	a.fetchDone = make(chan error, 1)
	go func() {
		a.fetchDone <- a.coord.Run(ctx)
	}()
	return a.server.Start()
}

// Shutdown stops the console, drains the fetch workers, closes merge staging
// and scrubs the local spill directories.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if a.cancelFetch != nil {
		a.cancelFetch()
		if ferr := <-a.fetchDone; ferr != nil && !errors.Is(ferr, context.Canceled) {
			err = errors.Join(err, ferr)
		}
	}
	a.staging.Close()
	if serr := a.dirs.Scrub(); serr != nil {
		a.log.Warn("scrub of local spill directories failed", zap.Error(serr))
	}
	_ = a.log.Sync()
	return err
}
