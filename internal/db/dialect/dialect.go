// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL portability.
package dialect

import "fmt"

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// Now returns the SQL expression for the current timestamp.
//
//	SQLite:   datetime('now')
//	Postgres: NOW()
func Now(driver string) string {
	if IsPostgres(driver) {
		return "NOW()"
	}
	return "datetime('now')"
}

// PlusSeconds returns the SQL expression for a timestamp column advanced by a
// number of seconds held in another column.
//
//	SQLite:   datetime(tsExpr, '+' || secondsExpr || ' seconds')
//	Postgres: tsExpr + (secondsExpr || ' seconds')::interval
func PlusSeconds(driver, tsExpr, secondsExpr string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("%s + (%s || ' seconds')::interval", tsExpr, secondsExpr)
	}
	return fmt.Sprintf("datetime(%s, '+' || %s || ' seconds')", tsExpr, secondsExpr)
}

// SkipLocked returns the locking clause for a claim subquery. SQLite has no
// row-level locks; its single-writer connection serializes claimers instead.
func SkipLocked(driver string) string {
	if IsPostgres(driver) {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// JSONType returns the column type used for JSON documents.
//
//	SQLite:   TEXT
//	Postgres: JSONB
func JSONType(driver string) string {
	if IsPostgres(driver) {
		return "JSONB"
	}
	return "TEXT"
}
