// Package migrations embeds the SQL migrations for the jobs and tasks
// tables so binaries can apply them at startup without shipping files.
package migrations

import "embed"

// FS holds the embedded goose migration files.
//
//go:embed *.sql
var FS embed.FS
