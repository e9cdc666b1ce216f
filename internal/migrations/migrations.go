// Package migrations embeds the goose migration scripts for the subject
// store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
