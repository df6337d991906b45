// Package migrations embeds the goose SQL migrations for the job records and
// the business tables mutated by job handlers.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
