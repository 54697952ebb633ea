package hostlog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps log lines in the host_logs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append inserts one line.
func (s *PostgresStore) Append(ctx context.Context, channel, message string, at time.Time) error {
	if s == nil || s.pool == nil {
		return errors.New("hostlog: store not initialised")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO host_logs (channel, message, created_at) VALUES ($1, $2, $3)`, channel, message, at)
	return err
}

// Recent lists the newest lines of a channel.
func (s *PostgresStore) Recent(ctx context.Context, channel string, limit int) ([]Entry, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("hostlog: store not initialised")
	}
	rows, err := s.pool.Query(ctx, `SELECT id, channel, message, created_at FROM host_logs WHERE channel = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Channel, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune deletes lines of a channel older than before and returns how many were removed.
func (s *PostgresStore) Prune(ctx context.Context, channel string, before time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("hostlog: store not initialised")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM host_logs WHERE channel = $1 AND created_at < $2`, channel, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
