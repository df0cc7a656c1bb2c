// Package postgres is the server index store, backed by pgx.
//
// Rebuilds delete and re-insert inside one transaction. Readers keep seeing
// the previous generation through MVCC until commit; nothing takes a table
// lock that would block them.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store implements core.IndexStore on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	q    *Queries
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg PoolConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, core.StorageError("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.StorageError("ping", err)
	}
	return NewStore(pool), nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: New(pool)}
}

func (s *Store) Init(ctx context.Context) error {
	if err := s.q.CreateSchema(ctx); err != nil {
		return core.StorageError("init schema", err)
	}
	return nil
}

func (s *Store) StoredSignature(ctx context.Context) (core.Signature, error) {
	v, err := s.q.GetSignature(ctx)
	if err != nil {
		return "", core.StorageError("read signature", err)
	}
	return core.Signature(v), nil
}

// BeginRebuild clears the index and writes sig inside a new transaction.
func (s *Store) BeginRebuild(ctx context.Context, sig core.Signature) (core.RebuildTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, core.StorageError("begin rebuild", err)
	}
	if err := s.q.WithTx(tx).ResetIndex(ctx, sig); err != nil {
		_ = tx.Rollback(ctx)
		return nil, core.StorageError("reset index", err)
	}
	return &rebuildTx{tx: tx}, nil
}

type rebuildTx struct {
	tx  pgx.Tx
	seq int64
}

var entryColumns = []string{"seq", "key_a", "key_b", "label"}

// WriteBatch streams entries with COPY.
func (t *rebuildTx) WriteBatch(ctx context.Context, entries []core.Entry) error {
	base := t.seq
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"entries"}, entryColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{base + int64(i) + 1, e.KeyA, e.KeyB, e.Label}, nil
		}),
	)
	if err != nil {
		return core.StorageError("copy entries", err)
	}
	t.seq += int64(len(entries))
	return nil
}

func (t *rebuildTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return core.StorageError("commit", err)
	}
	return nil
}

// Rollback after Commit returns pgx.ErrTxClosed, which is not a failure here.
func (t *rebuildTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return core.StorageError("rollback", err)
	}
	return nil
}

func (s *Store) First(ctx context.Context, keyA, keyB string) (string, bool, error) {
	label, found, err := s.q.FirstLabel(ctx, keyA, keyB)
	if err != nil {
		return "", false, core.StorageError("first", err)
	}
	return label, found, nil
}

func (s *Store) All(ctx context.Context, keyA, keyB string) ([]string, error) {
	labels, err := s.q.AllLabels(ctx, keyA, keyB)
	if err != nil {
		return nil, core.StorageError("all", err)
	}
	return labels, nil
}

// Snapshot reads the signature and entry count in one repeatable-read
// transaction.
func (s *Store) Snapshot(ctx context.Context) (core.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return core.Snapshot{}, core.StorageError("snapshot", err)
	}
	defer tx.Rollback(ctx)

	q := s.q.WithTx(tx)
	sig, err := q.GetSignature(ctx)
	if err != nil {
		return core.Snapshot{}, core.StorageError("snapshot", err)
	}
	n, err := q.CountEntries(ctx)
	if err != nil {
		return core.Snapshot{}, core.StorageError("snapshot", err)
	}
	return core.Snapshot{Signature: core.Signature(sig), Entries: n}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
