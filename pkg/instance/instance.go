package instance

import (
	"os"

	"github.com/angelmondragon/venue-ledger/pkg/env"
)

// GetID names this worker for lock ownership and logs: WORKER_ID when set,
// otherwise the hostname.
func GetID() string {
	if id := env.Get("WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
