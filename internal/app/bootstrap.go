// Package app wires configuration into a running engine: database, migrations,
// attachment storage, notifiers and metrics.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"drawdown/internal/blob"
	"drawdown/internal/config"
	"drawdown/internal/db"
	"drawdown/internal/engine"
	"drawdown/internal/metrics"
	"drawdown/internal/migrate"
	"drawdown/internal/notify"
	"drawdown/internal/repo"
	"drawdown/internal/server"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB
	Dialect db.Dialect
	Repo    repo.Repo
	Engine  engine.Engine
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	closers []func() error
}

// Bootstrap opens and migrates the database and assembles the engine.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, dialect, err := db.Open(db.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Workspace: cfg.Database.Workspace,
	})
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn, Dialect: dialect, Logger: logger}
	a.closers = append(a.closers, conn.Close)
	undo := zap.ReplaceGlobals(logger)
	a.closers = append(a.closers, func() error { undo(); return nil })

	version, err := migrate.Migrate(ctx, conn, dialect)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", zap.String("driver", string(dialect)), zap.Int("schema_version", version))

	store, err := OpenBlobStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier, closers := BuildNotifier(cfg, logger)
	a.closers = append(a.closers, closers...)

	a.Repo = repo.New(conn, dialect)
	a.Metrics = metrics.New()
	a.Engine = engine.New(a.Repo, cfg)
	a.Engine.Blobs = store
	a.Engine.Notifier = notifier
	a.Engine.Metrics = a.Metrics
	a.Engine.Logger = logger.Named("engine")
	return a, nil
}

// Handler builds the HTTP API over the app's engine.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:   a.Engine,
		BasePath: a.Config.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:       a.Config.Server.JWTSecret,
			AllowDevHeaders: a.Config.Server.AllowDevHeaders,
			Logger:          a.Logger.Named("auth"),
		},
		Metrics: a.Metrics,
		Logger:  a.Logger.Named("http"),
	})
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenBlobStore returns the configured attachment store. A relative fs
// directory is resolved against the database workspace.
func OpenBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Storage.Kind {
	case "s3":
		store, err := blob.NewS3(ctx, blob.S3Config{
			Bucket:   cfg.Storage.S3.Bucket,
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
			Prefix:   cfg.Storage.S3.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		return store, nil
	case "", "fs":
		dir := cfg.Storage.Dir
		if dir == "" {
			dir = ".drawdown/blobs"
		}
		if !filepath.IsAbs(dir) {
			ws := cfg.Database.Workspace
			if ws == "" {
				ws = "."
			}
			dir = filepath.Join(ws, dir)
		}
		return blob.FS{Dir: dir}, nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Storage.Kind)
	}
}

// BuildNotifier fans out to every configured transport. The returned closers
// release transport connections.
func BuildNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, []func() error) {
	var (
		out     notify.Multi
		closers []func() error
	)
	if cfg.Notify.Log {
		out = append(out, notify.Log{Logger: logger.Named("notify")})
	}
	if addr := cfg.Notify.Redis.Addr; addr != "" {
		client := notify.NewRedisClient(addr, cfg.Notify.Redis.Password, cfg.Notify.Redis.DB)
		stream := cfg.Notify.Redis.Stream
		if stream == "" {
			stream = notify.DefaultStream
		}
		out = append(out, notify.RedisStream{Client: client, Stream: stream})
		closers = append(closers, client.Close)
	}
	for _, hook := range cfg.Notify.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		out = append(out, notify.Webhook{URL: hook.URL, Secret: hook.Secret, Events: hook.Events})
	}
	switch len(out) {
	case 0:
		return notify.Nop{}, closers
	case 1:
		return out[0], closers
	}
	return out, closers
}
