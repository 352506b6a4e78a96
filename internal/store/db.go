package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DriverName maps a configured driver ("pgx", "postgres", "sqlite3",
// "sqlite") to the database/sql driver it registers under.
func DriverName(driver string) (string, error) {
	switch driver {
	case "pgx", "postgres", "postgresql":
		return "pgx", nil
	case "sqlite3", "sqlite":
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Dialect returns the SQL dialect of an open database handle. It also
// names the migrations subdirectory for that database.
func Dialect(db *sqlx.DB) string {
	if db.DriverName() == "sqlite3" {
		return DialectSQLite
	}
	return DialectPostgres
}

func Open(ctx context.Context, driver, databaseURL string) (*sqlx.DB, error) {
	name, err := DriverName(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(name, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if name == "sqlite3" {
		// One connection keeps writes serialized and the pragma applied.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func statementBuilder(db *sqlx.DB) sq.StatementBuilderType {
	if Dialect(db) == DialectSQLite {
		return sq.StatementBuilder.PlaceholderFormat(sq.Question)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}
