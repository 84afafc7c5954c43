package store

import "embed"

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS
