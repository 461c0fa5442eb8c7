package db

// Driver names used across the store.
const (
	SQLite3  = "sqlite3"
	Postgres = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL.
func IsPostgres(driver string) bool {
	return driver == Postgres || driver == "postgres"
}

// BoolToInt converts a boolean for column storage on either backend.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
