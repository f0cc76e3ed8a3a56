package utils

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PostgresPoolConfig controls database/sql pool behavior.
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration

	// StartupMaxWait bounds how long OpenPostgres keeps retrying the first ping.
	StartupMaxWait time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 || c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	for _, d := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&c.ConnMaxLifetime, 30 * time.Minute},
		{&c.ConnMaxIdleTime, 5 * time.Minute},
		{&c.PingTimeout, 5 * time.Second},
		{&c.StartupMaxWait, 30 * time.Second},
	} {
		if *d.v <= 0 {
			*d.v = d.def
		}
	}
	return c
}

// OpenPostgres opens a Postgres pool. driverName should be "pgx" (pgx stdlib).
// The first ping is retried with exponential backoff so the API can start
// alongside its database. dsn must not be logged; it contains secrets.
func OpenPostgres(ctx context.Context, driverName, dsn string, pool PostgresPoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	err = RetryStartup(ctx, "postgres", pool.StartupMaxWait, func() error {
		return HealthCheck(ctx, db, pool.PingTimeout)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the DB with a timeout.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// RetryStartup retries a connectivity check with exponential backoff until
// maxWait elapses or ctx is done. It is for process startup only; request
// paths never retry store operations.
func RetryStartup(ctx context.Context, name string, maxWait time.Duration, check func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxWait
	b.Reset()

	notify := func(err error, d time.Duration) {
		slog.Warn("dependency not ready, retrying", "dependency", name, "err", err, "after", d)
	}
	return backoff.RetryNotify(check, backoff.WithContext(b, ctx), notify)
}
