// Package catalog embeds the SQL migration set for the Catalog store
// (fg, report, test, user, event tables).
package catalog

import "embed"

//go:embed *.sql
var FS embed.FS
