package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/knolroom/internal/errs"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB represents a wrapper around the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps writers queued in
	// database/sql, where they honour context deadlines, instead of failing
	// with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// SQLiteBackend stores each room of one kind as a row of the rooms table.
type SQLiteBackend[T any] struct {
	db   *DB
	kind string
}

// NewSQLiteBackend returns a backend for the given record kind.
func NewSQLiteBackend[T any](db *DB, kind string) *SQLiteBackend[T] {
	return &SQLiteBackend[T]{db: db, kind: kind}
}

// Open returns the store for roomID.
func (b *SQLiteBackend[T]) Open(roomID string) (Store[T], error) {
	if roomID == "" {
		return nil, errs.Validation("empty room id")
	}
	return &sqliteStore[T]{db: b.db, kind: b.kind, room: roomID}, nil
}

// Rooms lists every room id of this kind.
func (b *SQLiteBackend[T]) Rooms(ctx context.Context) ([]string, error) {
	rows, err := b.db.conn.QueryContext(ctx, `
		SELECT room_id FROM rooms WHERE kind = ? ORDER BY room_id
	`, b.kind)
	if err != nil {
		return nil, errs.Storage("rooms", "", fmt.Errorf("failed to list rooms of kind %s: %w", b.kind, err))
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage("rooms", "", fmt.Errorf("failed to scan room row: %w", err))
		}
		rooms = append(rooms, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("rooms", "", err)
	}
	return rooms, nil
}

type sqliteStore[T any] struct {
	db   *DB
	kind string
	room string
}

// Load inserts an empty row if the room is new, then reads the payload.
func (s *sqliteStore[T]) Load(ctx context.Context) ([]T, error) {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO rooms (kind, room_id, payload, updated_at)
		VALUES (?, ?, '[]', ?)
		ON CONFLICT (kind, room_id) DO NOTHING
	`, s.kind, s.room, time.Now().UTC())
	if err != nil {
		return nil, errs.Storage("load", s.room, fmt.Errorf("failed to initialize room: %w", err))
	}

	var payload string
	err = s.db.conn.QueryRowContext(ctx, `
		SELECT payload FROM rooms WHERE kind = ? AND room_id = ?
	`, s.kind, s.room).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("room row vanished after initialization")
		}
		return nil, errs.Storage("load", s.room, err)
	}

	records, err := decodeRecords[T]([]byte(payload))
	if err != nil {
		return nil, errs.Storage("load", s.room, err)
	}
	return records, nil
}

// Commit upserts the room row inside a transaction.
func (s *sqliteStore[T]) Commit(ctx context.Context, records []T) (err error) {
	payload, err := encodeRecords(records)
	if err != nil {
		return errs.Storage("commit", s.room, err)
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("commit", s.room, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = errs.Storage("commit", s.room, e)
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (kind, room_id, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, room_id) DO UPDATE
		SET payload = excluded.payload, updated_at = excluded.updated_at
	`, s.kind, s.room, string(payload), time.Now().UTC())
	if err != nil {
		return errs.Storage("commit", s.room, fmt.Errorf("failed to write room: %w", err))
	}
	return nil
}
