package migrations

import "embed"

// Files holds the SQL migrations in version order by file name.
//
//go:embed *.sql
var Files embed.FS
