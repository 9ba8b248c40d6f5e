// Package postgres provides PostgreSQL implementations of the job and
// notification stores using the pgx driver through database/sql, plus the
// embedded goose migrations that create their tables.
package postgres
