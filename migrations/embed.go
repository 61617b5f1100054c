// Package migrations embeds the MySQL schema applied by cmd/tools/migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
