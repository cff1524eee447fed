package cache

import (
	"time"

	"github.com/quantora/marketdata-client/pkg/quote"
)

// Entry is a cached fetch payload. Entries are immutable once
// inserted; a newer fetch for the same key overwrites rather than
// mutates.
type Entry struct {
	// Key is the request identity the entry was stored under.
	Key string `json:"key"`

	// Candles is the cached payload.
	Candles []quote.Candle `json:"candles"`

	// InsertedAt is when the entry was written.
	InsertedAt time.Time `json:"inserted_at"`

	// ExpiresAt is when the entry becomes stale. Always after
	// InsertedAt.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the entry is past its validity window.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.ExpiresAt)
}

// TTL returns the remaining time until expiry, or 0 if already
// expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
