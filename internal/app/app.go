package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"chatsync/pkg/auth"
	"chatsync/pkg/braid"
	"chatsync/pkg/config"
	"chatsync/pkg/engine"
	"chatsync/pkg/fanout"
	"chatsync/pkg/logger"
	"chatsync/pkg/store"
	"chatsync/pkg/validation"

	"chatsync/internal/retention"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	store   *store.Store
	guard   *auth.Guard
	tracker *braid.Tracker
	hub     *fanout.Hub
	engine  *engine.Engine

	srv *http.Server
}

// New initializes everything that does not require a running context:
// config validation, logging, the store, and the sync pipeline. Call Run
// to start the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	logger.Init(eff.Config.Logging.Level, eff.Config.Logging.Format)

	// signing keys for identity verification
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	validation.SetRules(validation.Rules{
		MaxContentLen: eff.Config.Sync.MaxContentLen,
		MaxSenderLen:  eff.Config.Sync.MaxSenderLen,
	})

	st, err := store.Open(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	guard := auth.NewGuard(st, eff.Config.Auth.Bypass)
	tracker := braid.NewTracker(st)
	hub := fanout.NewHub(st, eff.Config.Sync.SubscriberBuffer)
	eng := engine.New(st, guard, tracker, hub, eff.Config.WriteTimeoutOrDefault())

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		guard:     guard,
		tracker:   tracker,
		hub:       hub,
		engine:    eng,
	}
	return a, nil
}

// Run starts the retention sweeper and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	cancelRetention, err := retention.Start(ctx, a.eff, a.store)
	if err != nil {
		return err
	}
	defer cancelRetention()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.drain()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// drain closes subscribers, shuts the HTTP server down with a deadline,
// and syncs the store.
func (a *App) drain() {
	logger.Info("server_draining")
	a.hub.Close()
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(sctx)
	}
	if err := a.store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("server_stopped")
	logger.Sync()
}
