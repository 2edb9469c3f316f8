package credstore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/athenalms/portal/core"
)

const credentialSchema = `
CREATE TABLE IF NOT EXISTS portal_credential (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type sqlStore struct {
	db *sqlx.DB
}

var _ Store = (*sqlStore)(nil)

// NewSQLStore returns a Postgres-backed Store.
func NewSQLStore(conf *core.Config) (Store, error) {
	db, err := sqlx.Connect("postgres", conf.CredStore.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	if _, err := db.Exec(credentialSchema); err != nil {
		return nil, errors.Wrap(err, "ensuring credential schema")
	}
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.GetContext(ctx, &val, `SELECT value FROM portal_credential WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "getting credential")
	}
	return val, nil
}

func (s *sqlStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_credential (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return errors.Wrap(err, "setting credential")
}

func (s *sqlStore) Delete(ctx context.Context, keys ...string) error {
	query, args, err := sqlx.In(`DELETE FROM portal_credential WHERE key IN (?)`, keys)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return errors.Wrap(err, "deleting credentials")
}
