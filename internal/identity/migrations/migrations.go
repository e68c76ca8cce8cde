// Package migrations embeds the users schema applied by goose at startup.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
