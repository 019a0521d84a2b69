package main

import (
	"fmt"
	"os"
)

// writeTemplate writes the commented default config to path. An existing
// file is kept unless overwrite is set.
func writeTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}

const configTemplate = `# indexd configuration. Every key is optional; omitted keys keep their defaults.

host = "127.0.0.1"

send_queue_size = 256
max_inflight = 32
request_timeout = "30s"
connect_timeout = "5s"
write_timeout = "15s"
max_connect_attempts = 5
max_payload_bytes = 8388608

project_markers = [".indexroot", ".git"]
ignore = [".git/", "node_modules/"]
include = []
# case_sensitive defaults to false on windows and darwin, true elsewhere.
# case_sensitive = true

# Empty disables the admin HTTP server.
admin_addr = ""
admin_cors_origins = []

progress_events_per_second = 20.0
watch_roots = true
watch_debounce = "250ms"
`
