// Package migrations embeds the SQL schema of the state archive.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
