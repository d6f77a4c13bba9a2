// Package voltech embeds the SQL migration set for the Voltech store
// (test_result, processed_file, parse_error, watcher_lock, settings tables).
package voltech

import "embed"

//go:embed *.sql
var FS embed.FS
