// Package storage provides the settings store used by the service.
//
// Settings are opaque JSON blobs keyed by name with a category tag, the same
// shape the monitoring server keeps in its "setting" table. Drivers:
//   - memory: process-local map (default)
//   - file:   JSON snapshot rewritten atomically
//   - sqlite: modernc.org/sqlite (pure Go)
//   - redis:  two hashes (<prefix>:settings, <prefix>:settings:type)
package storage
