// Package migrations embeds the SQL schema migrations for the esign store.
package migrations

import "embed"

// FS exposes the embedded migration files.
//
//go:embed *.sql
var FS embed.FS
