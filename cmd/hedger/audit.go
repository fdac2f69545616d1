package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyhedge/config"
	"github.com/alejandrodnm/polyhedge/internal/adapters/httpapi"
	"github.com/alejandrodnm/polyhedge/internal/adapters/storage"
)

// auditStack agrupa los sinks configurados: SQLite (storage.dsn) y Redis (audit.redis_url).
// Sin ninguno, sink es un Multi vacío y los registros se descartan.
type auditStack struct {
	sink    storage.Multi
	db      *storage.SQLiteStorage
	closers []func() error
}

func openAudit(ctx context.Context, cfg *config.Config) (*auditStack, error) {
	a := &auditStack{}

	if cfg.Storage.DSN != "" {
		db, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
		}
		a.db = db
		a.sink = append(a.sink, db)
		a.closers = append(a.closers, db.Close)
	}

	if cfg.Audit.RedisURL != "" {
		rs, err := storage.NewRedisSink(cfg.Audit.RedisURL, cfg.Audit.Prefix)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rs.Ping(pingCtx)
		cancel()
		if err != nil {
			// Redis es opcional: sin él se sigue auditando en SQLite
			slog.Warn("audit: redis unreachable, stream disabled", "err", err)
			_ = rs.Close()
		} else {
			a.sink = append(a.sink, rs)
			a.closers = append(a.closers, rs.Close)
			slog.Info("audit: redis stream enabled", "prefix", cfg.Audit.Prefix)
		}
	}

	return a, nil
}

// history devuelve la parte de lectura para el servidor HTTP, o nil sin SQLite.
func (a *auditStack) history() httpapi.History {
	if a.db == nil {
		return nil
	}
	return a.db
}

func (a *auditStack) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("audit: close failed", "err", err)
		}
	}
}
