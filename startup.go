package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const startupAdvisoryLockID int64 = 824173921

func tryAdvisoryLock(ctx context.Context, db *sql.DB, lockID int64) (*sql.Conn, bool, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return conn, true, nil
}

func releaseAdvisoryLock(conn *sql.Conn, lockID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, lockID); err != nil {
		log.Warn().Err(err).Int64("lockId", lockID).Msg("advisory unlock failed")
	}
	_ = conn.Close()
}

// runStartup applies migrations on the instance holding the startup lock,
// then loads runtime settings on every instance.
func runStartup(ctx context.Context, db *sql.DB, cfg *Config, migrateFn func(string) error) error {
	if cfg.MigrateOnStart {
		conn, acquired, err := tryAdvisoryLock(ctx, db, startupAdvisoryLockID)
		if err != nil {
			return fmt.Errorf("acquire startup lock: %w", err)
		}
		if acquired {
			log.Info().Msg("startup lock acquired, running migrations")
			err := migrateFn(cfg.DatabaseURL)
			releaseAdvisoryLock(conn, startupAdvisoryLockID)
			if err != nil {
				return err
			}
		} else {
			log.Info().Msg("startup lock held by another instance, skipping migrations")
		}
	}

	if err := LoadGlobalSettings(ctx, db); err != nil {
		log.Warn().Err(err).Msg("global settings load failed, using defaults")
	}
	return nil
}
