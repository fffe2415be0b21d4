// Package migrations embeds the gateway's PostgreSQL schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
