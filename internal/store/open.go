// Package store selects and opens the configured index store.
package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/tdfc/internal/config"
	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/JonMunkholm/tdfc/internal/store/postgres"
	"github.com/JonMunkholm/tdfc/internal/store/sqlite"
)

// Open opens the store named by cfg.Database.Driver and creates its tables.
func Open(ctx context.Context, cfg *config.Config) (core.IndexStore, error) {
	var (
		s   core.IndexStore
		err error
	)

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		s, err = sqlite.Open(cfg.Database.SQLiteFile(&cfg.Storage))
	case config.DriverPostgres:
		s, err = postgres.Connect(ctx, postgres.PoolConfig{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ServiceOptions maps the process configuration onto core.Options.
func ServiceOptions(cfg *config.Config) core.Options {
	return core.Options{
		SourcePath:           cfg.Storage.SourcePath(),
		Sheet:                cfg.Storage.Sheet,
		HeaderScanRows:       cfg.Storage.HeaderScanRows,
		BatchSize:            cfg.Storage.BatchSize,
		SignatureMode:        core.SignatureMode(cfg.Storage.SignatureMode),
		LookupCacheSize:      cfg.Cache.LookupEntries,
		MaxUploadSize:        cfg.Upload.MaxFileSize,
		MaxConcurrentUploads: cfg.Upload.MaxConcurrent,
		MaxUploadWait:        cfg.Upload.MaxWaitTime,
	}
}
