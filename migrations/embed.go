// Package migrations embeds the Postgres schema for the postgres store driver.
package migrations

import "embed"

// FS holds the golang-migrate up/down files.
//
//go:embed *.sql
var FS embed.FS
