// Package migrations embeds the SQL migrations for the database of record
// (§6 "Repository"), discovered by internal/storage.NewMigrator via bun's
// migrate.Migrations.Discover.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
