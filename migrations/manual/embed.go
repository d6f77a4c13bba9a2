// Package manual embeds the SQL migration set for the Manual store
// (manual_test_result, processed_file, settings tables).
package manual

import "embed"

//go:embed *.sql
var FS embed.FS
