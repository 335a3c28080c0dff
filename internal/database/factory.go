package database

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
)

// Open creates a store for the configured driver. SQLite is the default;
// Postgres is selected with Driver="postgres" and a DSN in URL.
func Open(config Config) (*DB, error) {
	switch config.Driver {
	case "", "sqlite":
		return NewSQLite(config)
	case "postgres":
		return newPostgres(config)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
}

func newPostgres(config Config) (*DB, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("postgres driver requires a DSN")
	}

	db, err := sql.Open("pgx", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	d := &DB{db: db, postgres: true}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}
