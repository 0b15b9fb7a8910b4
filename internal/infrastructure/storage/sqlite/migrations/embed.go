package migrations

import "embed"

// FS contains embedded SQLite migrations for install records.
//
//go:embed *.sql
var FS embed.FS
