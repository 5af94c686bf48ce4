package db

import (
	"database/sql"
	"errors"
)

// Scanner reads one row. Both *sql.Row.Scan and *sql.Rows.Scan fit.
type Scanner[T any] func(scan func(dest ...any) error) (T, error)

func (d *DB) trace(kind, query string, args []any) {
	if d.logQueries {
		logger.Debug().Str("kind", kind).Str("sql", query).Interface("args", args).Msg("db query")
	}
}

// Select runs a query and maps every row through scanner
func Select[T any](d *DB, scanner Scanner[T], query string, args ...any) ([]T, error) {
	d.trace("select", query, args)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []T{}
	for rows.Next() {
		item, err := scanner(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

// SelectOne returns nil, nil when the query matches no row
func SelectOne[T any](d *DB, scanner Scanner[T], query string, args ...any) (*T, error) {
	d.trace("get", query, args)

	item, err := scanner(d.conn.QueryRow(query, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Exec runs a statement that returns no rows
func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	d.trace("exec", query, args)
	return d.conn.Exec(query, args...)
}
