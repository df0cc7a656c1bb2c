package postgres

import (
	"context"
	"errors"

	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so the same
// queries run inside or outside a transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const createSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	seq   BIGINT PRIMARY KEY,
	key_a TEXT NOT NULL,
	key_b TEXT NOT NULL,
	label TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_key ON entries (key_a, key_b, seq);
`

const getSignature = `SELECT value FROM meta WHERE key = $1`

const deleteEntries = `DELETE FROM entries`

const deleteMeta = `DELETE FROM meta`

const insertSignature = `INSERT INTO meta (key, value) VALUES ($1, $2)`

const firstLabel = `SELECT label FROM entries WHERE key_a = $1 AND key_b = $2 ORDER BY seq LIMIT 1`

const allLabels = `SELECT label FROM entries WHERE key_a = $1 AND key_b = $2 ORDER BY seq`

const countEntries = `SELECT COUNT(*) FROM entries`

const sigKey = "file_sig"

// Queries runs the index statements against a DBTX.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

func (q *Queries) CreateSchema(ctx context.Context) error {
	_, err := q.db.Exec(ctx, createSchema)
	return err
}

// GetSignature returns "" when no signature is stored.
func (q *Queries) GetSignature(ctx context.Context) (string, error) {
	var v string
	err := q.db.QueryRow(ctx, getSignature, sigKey).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (q *Queries) ResetIndex(ctx context.Context, sig core.Signature) error {
	if _, err := q.db.Exec(ctx, deleteEntries); err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, deleteMeta); err != nil {
		return err
	}
	_, err := q.db.Exec(ctx, insertSignature, sigKey, string(sig))
	return err
}

func (q *Queries) FirstLabel(ctx context.Context, keyA, keyB string) (string, bool, error) {
	var label string
	err := q.db.QueryRow(ctx, firstLabel, keyA, keyB).Scan(&label)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return label, true, nil
}

func (q *Queries) AllLabels(ctx context.Context, keyA, keyB string) ([]string, error) {
	rows, err := q.db.Query(ctx, allLabels, keyA, keyB)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (q *Queries) CountEntries(ctx context.Context) (int, error) {
	var n int64
	err := q.db.QueryRow(ctx, countEntries).Scan(&n)
	return int(n), err
}
