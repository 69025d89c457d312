// Package migrations embeds the schema of the postgres kv backend.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
