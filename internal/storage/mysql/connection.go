package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	// Registers the "mysql" driver.
	_ "github.com/go-sql-driver/mysql"

	xerrors "NFTMarket-Harness/internal/errors"
)

// Config holds pool settings. Zero fields use defaults.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open opens a pool and pings the database.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	return open(ctx, "mysql", cfg)
}

func open(ctx context.Context, driverName string, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" && driverName == "mysql" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "mysql dsn is required")
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open mysql")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping mysql")
	}
	return db, nil
}
