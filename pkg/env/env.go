package env

import (
	"os"
	"strings"
)

// Prefix namespaces every variable the ledger reads.
const Prefix = "VENUELEDGER_"

// Get returns VENUELEDGER_<key>, then the bare key, then fallback.
func Get(key, fallback string) string {
	if val := os.Getenv(Prefix + strings.TrimPrefix(key, Prefix)); val != "" {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
