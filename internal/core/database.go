// AngelaMos | 2026
// database.go

package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/accounts-api/internal/config"
)

const (
	pingTimeout = 5 * time.Second

	pgUniqueViolation = "23505"
)

// DBTX is the query surface repositories need. *sqlx.DB and *sqlx.Tx both
// satisfy it, so a repository can run inside Postgres.InTx unchanged.
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Postgres is the credential store's connection pool.
type Postgres struct {
	DB *sqlx.DB
}

func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url: %w", ErrInvalidInput)
	}

	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applyPoolSettings(db.DB, cfg)

	pg := &Postgres{DB: db}
	if err := pg.Ping(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, err
	}

	return pg, nil
}

// applyPoolSettings spreads connection recycling so a pool opened at once
// does not expire all at once.
func applyPoolSettings(db *sql.DB, cfg config.DatabaseConfig) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(withJitter(cfg.ConnMaxLifetime))
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

func withJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	//nolint:gosec // pool jitter, not security sensitive
	return base + time.Duration(rand.Int64N(int64(base/7)+1))
}

// Ping satisfies health.Checker.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := p.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

func (p *Postgres) Stats() sql.DBStats {
	return p.DB.Stats()
}

func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	return p.DB.Close()
}

// InTx runs fn in a transaction. fn's error, or a panic, rolls it back.
func (p *Postgres) InTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback() //nolint:errcheck // re-panicking
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err came from a unique index, which is
// how concurrent registrations of one username are told apart.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
