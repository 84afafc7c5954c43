// Package store persists queue items and history entries. It offers atomic
// read-write units (Update) and consistent reads (View) over three backends:
// SQLite (modernc.org/sqlite), bbolt and PostgreSQL (pgx). Schema changes for
// the SQL backends are applied with golang-migrate from embedded files.
package store
