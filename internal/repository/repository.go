// Package repository provides database access for the pipeline store.
// Mutations accept an optional *sql.Tx so the transition engine can group
// multi-row effects into one transaction; reads go straight to the pool.
package repository

import "database/sql"

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
