// Package migrations embeds the PostgreSQL schema so the binary can migrate
// without a checkout next to it.
package migrations

import "embed"

// FS holds the numbered up and down scripts.
//
//go:embed *.sql
var FS embed.FS
