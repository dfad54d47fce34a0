// Package migrations embeds the SQLite/libsql schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
