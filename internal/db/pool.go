package db

import "github.com/jmoiron/sqlx"

// Pool provides separate read and write database connections.
//
// For sqlite with WAL mode this enables concurrent reads while serializing
// writes through a single connection. For postgres both sides return the
// same *sqlx.DB since pgx pools internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Open opens a Pool for the configured driver.
func Open(driver, sqlitePath, postgresDSN string, maxConns, minConns int) (*Pool, error) {
	if driver == "postgres" {
		conn, err := OpenPostgres(postgresDSN, maxConns, minConns)
		if err != nil {
			return nil, err
		}
		return NewPool(conn, conn), nil
	}
	writer, err := OpenSQLite(sqlitePath)
	if err != nil {
		return nil, err
	}
	reader, err := OpenSQLiteReader(sqlitePath)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return NewPool(writer, reader), nil
}

// Writer returns the pool used for INSERT, UPDATE, DELETE, and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the pool used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both pools, avoiding a double close when they are shared.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
