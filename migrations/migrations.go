// Package migrations embeds the PostgreSQL schema files (NNN_description.sql).
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
