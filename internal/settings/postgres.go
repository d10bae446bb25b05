package settings

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

const settingQuery = `SELECT value FROM settings WHERE category = $1 AND key = $2`

// rowQuerier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres reads settings from a table of (category, key, value) rows.
type Postgres struct {
	db rowQuerier
}

func NewPostgres(db rowQuerier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetSetting(ctx context.Context, category, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(ctx, settingQuery, category, key).Scan(&value)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, xerrors.Wrapf(err, "query setting %s/%s", category, key)
	}
	return value, true, nil
}

// OpenPool connects to dsn and pings it, giving up after timeout.
func OpenPool(ctx context.Context, dsn string, timeout time.Duration) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "create pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(err, "ping database")
	}
	return pool, nil
}
