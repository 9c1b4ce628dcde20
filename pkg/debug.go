package cache

// debug.go registers a JSON diagnostics endpoint, adapted from the
// teacher's examples/basic "/debug/arena-cache/snapshot" handler and
// cmd/arena-cache-inspect, which polls it.
//
// © 2025 segcache authors. MIT License.

import (
	"encoding/json"
	"net/http"
)

// DebugSnapshotPath is the default path ServeDebug registers its handler
// under.
const DebugSnapshotPath = "/debug/segcache/snapshot"

// ServeDebug registers a JSON snapshot endpoint on mux at
// DebugSnapshotPath, suitable for scraping by cmd/segcache-inspect or any
// curl/browser.
func (c *Cache[K, V]) ServeDebug(mux *http.ServeMux) {
	mux.HandleFunc(DebugSnapshotPath, func(w http.ResponseWriter, r *http.Request) {
		snap := c.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}
