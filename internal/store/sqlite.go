package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SQLiteStore is the local durable adapter: one shared key/value table,
// partitioned by tab namespace, with the same sliding TTL as RedisStore.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
	ttl       time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewSQLiteStore creates a SQLiteStore. The table is created by
// database.OpenSQLite.
func NewSQLiteStore(db *sql.DB, namespace string, ttl time.Duration, log zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:        db,
		namespace: namespace,
		ttl:       ttl,
		now:       time.Now,
		log:       log.With().Str("component", "sqlite_store").Str("namespace", namespace).Logger(),
	}
}

func (s *SQLiteStore) expiry() int64 {
	return s.now().Add(s.ttl).UnixMilli()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM tab_store
		 WHERE namespace = ? AND key = ? AND expires_at > ?`,
		s.namespace, key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s: %w", key, err)
	}

	// Sliding expiry; a failed refresh only shortens the lifetime.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tab_store SET expires_at = ? WHERE namespace = ? AND key = ?`,
		s.expiry(), s.namespace, key,
	); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("Sliding expiry refresh failed")
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tab_store (namespace, key, value, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = excluded.value, expires_at = excluded.expires_at`,
		s.namespace, key, value, s.expiry(),
	)
	if err != nil {
		return fmt.Errorf("sqlite put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM tab_store WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}

// Purge removes every expired row across all namespaces.
func Purge(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM tab_store WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}
