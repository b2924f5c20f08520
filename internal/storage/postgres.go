package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/conorfennell/knolroom/internal/errs"
)

// PgxPool is the subset of *pgxpool.Pool used by the postgres backend.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SELECT and returns a rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// BeginTx starts a transaction with the provided options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const (
	pgInitRoom   = `INSERT INTO rooms (kind, room_id, payload, updated_at) VALUES ($1, $2, '[]'::jsonb, now()) ON CONFLICT (kind, room_id) DO NOTHING`
	pgSelectRoom = `SELECT payload FROM rooms WHERE kind=$1 AND room_id=$2`
	pgUpsertRoom = `INSERT INTO rooms (kind, room_id, payload, updated_at) VALUES ($1, $2, $3::jsonb, now()) ON CONFLICT (kind, room_id) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()`
	pgListRooms  = `SELECT room_id FROM rooms WHERE kind=$1 ORDER BY room_id`
)

// PostgresBackend stores rooms of one kind in the rooms table created by
// the goose migrations in internal/migrate.
type PostgresBackend[T any] struct {
	pool PgxPool
	kind string
}

// NewPostgresBackend returns a backend for the given record kind.
func NewPostgresBackend[T any](pool PgxPool, kind string) *PostgresBackend[T] {
	return &PostgresBackend[T]{pool: pool, kind: kind}
}

// Open returns the store for roomID.
func (b *PostgresBackend[T]) Open(roomID string) (Store[T], error) {
	if roomID == "" {
		return nil, errs.Validation("empty room id")
	}
	return &pgStore[T]{pool: b.pool, kind: b.kind, room: roomID}, nil
}

// Rooms lists every room id of this kind.
func (b *PostgresBackend[T]) Rooms(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, pgListRooms, b.kind)
	if err != nil {
		return nil, errs.Storage("rooms", "", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage("rooms", "", err)
		}
		rooms = append(rooms, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("rooms", "", err)
	}
	return rooms, nil
}

type pgStore[T any] struct {
	pool PgxPool
	kind string
	room string
}

func (s *pgStore[T]) Load(ctx context.Context) ([]T, error) {
	if _, err := s.pool.Exec(ctx, pgInitRoom, s.kind, s.room); err != nil {
		return nil, errs.Storage("load", s.room, fmt.Errorf("init room: %w", err))
	}

	var payload []byte
	if err := s.pool.QueryRow(ctx, pgSelectRoom, s.kind, s.room).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("room row vanished after initialization")
		}
		return nil, errs.Storage("load", s.room, err)
	}

	records, err := decodeRecords[T](payload)
	if err != nil {
		return nil, errs.Storage("load", s.room, err)
	}
	return records, nil
}

func (s *pgStore[T]) Commit(ctx context.Context, records []T) (err error) {
	payload, err := encodeRecords(records)
	if err != nil {
		return errs.Storage("commit", s.room, err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errs.Storage("commit", s.room, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = errs.Storage("commit", s.room, e)
		}
	}()

	if _, err = tx.Exec(ctx, pgUpsertRoom, s.kind, s.room, string(payload)); err != nil {
		return errs.Storage("commit", s.room, err)
	}
	return nil
}
