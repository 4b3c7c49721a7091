package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"entrytracker/internal/config"
)

// Open builds the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.App, logger *zap.Logger) (Backend, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		db, err := NewDB(cfg.DatabaseURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := NewPostgres(db.Client)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "badger":
		return NewBadger(BadgerOptions{Path: cfg.BadgerPath, Logger: badgerLogger{logger.Sugar()}})
	case "sheet", "xlsx":
		return NewSheet(cfg.SheetPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
