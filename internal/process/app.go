// Package process wires the remote store, the officiating core and the
// HTTP surfaces into a runnable service.
package process

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/charleschow/matchday/internal/adapters/inbound/refapi"
	"github.com/charleschow/matchday/internal/adapters/outbound/discord"
	"github.com/charleschow/matchday/internal/adapters/outbound/rediscache"
	"github.com/charleschow/matchday/internal/adapters/outbound/restapi"
	"github.com/charleschow/matchday/internal/adapters/outbound/sqlstore"
	"github.com/charleschow/matchday/internal/clock"
	"github.com/charleschow/matchday/internal/config"
	"github.com/charleschow/matchday/internal/core/batchsave"
	"github.com/charleschow/matchday/internal/core/consistency"
	"github.com/charleschow/matchday/internal/core/dedup"
	"github.com/charleschow/matchday/internal/core/session"
	"github.com/charleschow/matchday/internal/events"
	"github.com/charleschow/matchday/internal/fanout"
	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

// App holds every long-lived component of one matchday process.
type App struct {
	Config   *config.Config
	Profile  config.SyncProfile
	Store    remote.Store
	Bus      *events.Bus
	Dedup    *dedup.Service
	Scores   *consistency.Service
	Saver    *batchsave.Manager
	Sessions *session.Registry
	Fanout   *fanout.Server
	Notifier *discord.Notifier

	redis *redis.Client
}

// OpenStore opens the configured remote backend.
func OpenStore(cfg *config.Config) (remote.Store, error) {
	switch cfg.RemoteBackend {
	case "sqlite":
		return sqlstore.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		return sqlstore.OpenPostgres(cfg.Postgres.DSN())
	case "rest":
		return restapi.NewClient(cfg.RestBaseURL, cfg.RestAPIKey, cfg.RestRatePerSec, cfg.RemoteTimeout), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.RemoteBackend)
	}
}

// Build opens the store and wires the core. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	profile, err := config.LoadSyncProfile(cfg.SyncProfilePath)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("remote store: %w", err)
	}
	telemetry.Infof("remote store: %s", cfg.RemoteBackend)

	a := &App{
		Config:   cfg,
		Profile:  profile,
		Store:    store,
		Bus:      events.NewBus(),
		Sessions: session.NewRegistry(),
	}

	a.Dedup = dedup.New(store)
	if cfg.RedisAddr != "" {
		client, err := rediscache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.redis = client
		a.Dedup.WithClaims(rediscache.NewClaims(client), cfg.DuplicateClaimTTL)
		telemetry.Infof("duplicate claims: redis %s ttl=%s", cfg.RedisAddr, cfg.DuplicateClaimTTL)
	}

	a.Scores = consistency.New(store, store, a.Bus)
	a.Saver = batchsave.New(a.Dedup, store, a.Bus)
	a.Fanout = fanout.NewServer(a.Bus)
	a.Notifier = discord.NewNotifier(cfg.DiscordWebhookURL)
	a.Notifier.Attach(a.Bus)
	if a.Notifier.Enabled() {
		telemetry.Infof("discord alerts enabled")
	}
	return a, nil
}

// Handler is the referee API plus the scoreboard feed.
func (a *App) Handler() http.Handler {
	h := refapi.NewHandler(refapi.Deps{
		Sessions: a.Sessions,
		Fixtures: a.Store,
		SessionOptions: session.Options{
			Profile: a.Profile,
			Clock:   clock.Real{},
			Store:   a.Store,
			Bus:     a.Bus,
		},
		Scores:        a.Scores,
		Dedup:         a.Dedup,
		Saver:         a.Saver,
		RemoteTimeout: a.Config.RemoteTimeout,
	})
	return refapi.NewRouter(h, refapi.RouterOptions{
		CORSOrigins:    a.Config.CORSOrigins,
		RequestTimeout: a.Config.RequestTimeout,
		WS:             a.Fanout.HandleWS,
	})
}

// Drain force-syncs every open session so queued player time is not lost
// on shutdown, then closes them.
func (a *App) Drain(ctx context.Context) {
	for _, s := range a.Sessions.All() {
		if err := s.ForceSync(ctx); err != nil {
			telemetry.Warnf("shutdown: final sync for %s: %v", s.FixtureID(), err)
		}
		if c, err := s.Unsaved(); err == nil && c.Total > 0 {
			telemetry.Warnf("shutdown: fixture %s closes with %d unsaved items", s.FixtureID(), c.Total)
		}
	}
	a.Sessions.CloseAll()
}

func (a *App) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.Store.Close(); err != nil {
		telemetry.Warnf("close remote store: %v", err)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config) error {
	a, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	telemetry.Infof("matchday listening on %q", cfg.HTTPAddr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	telemetry.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		telemetry.Warnf("http shutdown: %v", err)
	}
	a.Drain(shutdownCtx)

	telemetry.Infof("Shutdown complete  goals=%d  cards=%d  syncs=%d  sync_errors=%d  batch_saves=%d",
		telemetry.Metrics.GoalsRecorded.Value(),
		telemetry.Metrics.CardsIssued.Value(),
		telemetry.Metrics.SyncsExecuted.Value(),
		telemetry.Metrics.SyncErrors.Value(),
		telemetry.Metrics.BatchSaves.Value(),
	)
	return nil
}
