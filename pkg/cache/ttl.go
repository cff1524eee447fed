package cache

import (
	"time"

	"github.com/quantora/marketdata-client/pkg/quote"
)

// TTLPolicy maps data granularity to cache validity. Intraday data
// goes stale in minutes; daily and coarser series survive much longer.
type TTLPolicy struct {
	Intraday time.Duration
	Daily    time.Duration
	Weekly   time.Duration
	Monthly  time.Duration
}

// DefaultTTLPolicy returns the validity windows used when none are
// configured.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Intraday: 2 * time.Minute,
		Daily:    1 * time.Hour,
		Weekly:   6 * time.Hour,
		Monthly:  24 * time.Hour,
	}
}

// For returns the TTL for the given granularity. Unknown granularities
// get the intraday TTL, the shortest window.
func (p TTLPolicy) For(g quote.Granularity) time.Duration {
	switch g {
	case quote.GranularityDaily:
		return p.Daily
	case quote.GranularityWeekly:
		return p.Weekly
	case quote.GranularityMonthly:
		return p.Monthly
	default:
		return p.Intraday
	}
}
