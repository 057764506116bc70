// Package migrations embeds the warehouse schema migrations so they run
// regardless of the working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
