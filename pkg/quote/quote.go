// Package quote defines the domain types shared by the market-data
// acquisition pipeline: fetch requests, OHLCV candles, fetch results,
// and the error taxonomy.
package quote

import (
	"fmt"
	"time"
)

// Granularity is the sampling interval of requested candle data.
type Granularity string

const (
	// GranularityIntraday is minute-level data for the current session.
	GranularityIntraday Granularity = "intraday"

	// GranularityDaily is one candle per trading day.
	GranularityDaily Granularity = "daily"

	// GranularityWeekly is one candle per trading week.
	GranularityWeekly Granularity = "weekly"

	// GranularityMonthly is one candle per calendar month.
	GranularityMonthly Granularity = "monthly"
)

// Valid reports whether g is one of the known granularities.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityIntraday, GranularityDaily, GranularityWeekly, GranularityMonthly:
		return true
	}
	return false
}

// Range is the half-open time interval [Start, End) of requested data.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FetchRequest identifies one logical fetch against the provider.
// The triple (Symbol, Granularity, Range) is the request identity and
// is used as cache key material.
type FetchRequest struct {
	Symbol      string      `json:"symbol"`
	Granularity Granularity `json:"granularity"`
	Range       Range       `json:"range"`
}

// Key returns the deterministic identity string for the request.
// Format: md:SYMBOL:granularity:startUnix:endUnix
func (r FetchRequest) Key() string {
	return fmt.Sprintf("md:%s:%s:%d:%d",
		r.Symbol, r.Granularity, r.Range.Start.Unix(), r.Range.End.Unix())
}

// Validate checks that the request is well-formed before it reaches
// the provider.
func (r FetchRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !r.Granularity.Valid() {
		return fmt.Errorf("unknown granularity %q", r.Granularity)
	}
	if !r.Range.End.After(r.Range.Start) {
		return fmt.Errorf("range end must be after start")
	}
	return nil
}

// Candle is one OHLCV record returned by the provider.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Status is the outcome class of one fetch.
type Status string

const (
	// StatusOK means the fetch succeeded against the live provider.
	StatusOK Status = "ok"

	// StatusCached means the result was served from cache.
	StatusCached Status = "cached"

	// StatusError means the fetch failed; FetchResult.ErrorKind is set.
	StatusError Status = "error"
)

// Source indicates where a successful result came from.
type Source string

const (
	// SourceCache marks a result served without a provider call.
	SourceCache Source = "cache"

	// SourceLive marks a result fetched from the provider.
	SourceLive Source = "live"
)

// ErrorKind classifies fetch failures. Kinds, not types: every error
// the pipeline can surface maps onto exactly one kind.
type ErrorKind string

const (
	// KindRateLimited means the local admission cap was hit in
	// non-blocking mode; no provider call was attempted.
	KindRateLimited ErrorKind = "rate_limited"

	// KindCircuitOpen means the provider is judged unhealthy and the
	// call was rejected without being attempted.
	KindCircuitOpen ErrorKind = "circuit_open"

	// KindTransient is a retryable provider failure: timeout,
	// connection reset, provider-side throttling, 5xx-equivalent.
	KindTransient ErrorKind = "transient"

	// KindFatal is a non-retryable provider failure: invalid symbol,
	// malformed request, authorization failure.
	KindFatal ErrorKind = "fatal"

	// KindRetriesExhausted wraps the last transient failure after all
	// retry attempts were spent.
	KindRetriesExhausted ErrorKind = "retries_exhausted"

	// KindTimeout means the deadline expired at some suspension point.
	KindTimeout ErrorKind = "timeout"

	// KindCacheUnavailable means the cache backend failed. It is only
	// ever logged and counted; a failing cache degrades to a miss and
	// never fails a fetch.
	KindCacheUnavailable ErrorKind = "cache_unavailable"
)

// FetchResult is the per-request outcome of a fetch.
type FetchResult struct {
	Request   FetchRequest  `json:"request"`
	Status    Status        `json:"status"`
	Candles   []Candle      `json:"candles,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Err       error         `json:"-"`
	Latency   time.Duration `json:"latency"`
	Source    Source        `json:"source,omitempty"`
}

// OK reports whether the result carries usable data.
func (r FetchResult) OK() bool {
	return r.Status == StatusOK || r.Status == StatusCached
}
