package db

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// OpenPostgres opens a PostgreSQL connection pool using pgx.
// If maxConns or minConns are 0, they default to 25 and 5.
func OpenPostgres(dsn string, maxConns, minConns int) (*sqlx.DB, error) {
	conn, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(minConns)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return conn, nil
}
