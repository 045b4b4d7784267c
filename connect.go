package layercake

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

// EnvOr returns the value of the environment variable key, or fallback if unset/empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ConnectDB builds a PostgreSQL connection string from environment variables,
// opens the connection, and verifies it with a ping.
//
// Environment variable priority:
//  1. LAYERCAKE_DATABASE_URL (full connection string)
//  2. Individual: LAYERCAKE_PGHOST/PGHOST, LAYERCAKE_PGUSER/PGUSER, etc.
func ConnectDB() (*sql.DB, error) {
	dbURL := os.Getenv("LAYERCAKE_DATABASE_URL")
	if dbURL == "" {
		host := EnvOr("LAYERCAKE_PGHOST", EnvOr("PGHOST", "localhost"))
		user := EnvOr("LAYERCAKE_PGUSER", EnvOr("PGUSER", "postgres"))
		dbname := EnvOr("LAYERCAKE_PGDATABASE", EnvOr("PGDATABASE", "layercake"))
		sslmode := EnvOr("LAYERCAKE_PGSSLMODE", EnvOr("PGSSLMODE", "disable"))
		dbURL = fmt.Sprintf("host=%s user=%s dbname=%s sslmode=%s", host, user, dbname, sslmode)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}
