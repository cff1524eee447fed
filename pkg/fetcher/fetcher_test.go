package fetcher

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantora/marketdata-client/pkg/breaker"
	"github.com/quantora/marketdata-client/pkg/cache"
	"github.com/quantora/marketdata-client/pkg/provider"
	"github.com/quantora/marketdata-client/pkg/quote"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func testRequest(symbol string) quote.FetchRequest {
	return quote.FetchRequest{
		Symbol:      symbol,
		Granularity: quote.GranularityDaily,
		Range: quote.Range{
			Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func testCandles() []quote.Candle {
	return []quote.Candle{
		{Time: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000},
	}
}

// fastConfig keeps retries and windows small so tests run quickly.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRequestsPerWindow = 1000
	cfg.Window = time.Second
	cfg.MaxAttempts = 2
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.FailureThreshold = 3
	cfg.Cooldown = 50 * time.Millisecond
	return cfg
}

// countingProvider wraps a provider.Func and counts calls.
type countingProvider struct {
	calls atomic.Int64
	fn    provider.Func
}

func (c *countingProvider) Fetch(ctx context.Context, req quote.FetchRequest) ([]quote.Candle, error) {
	c.calls.Add(1)
	return c.fn(ctx, req)
}

func healthy() *countingProvider {
	return &countingProvider{fn: func(context.Context, quote.FetchRequest) ([]quote.Candle, error) {
		return testCandles(), nil
	}}
}

func alwaysFailing(err error) *countingProvider {
	return &countingProvider{fn: func(context.Context, quote.FetchRequest) ([]quote.Candle, error) {
		return nil, err
	}}
}

func newTestFetcher(t *testing.T, p provider.Provider, withCache bool, cfg Config) *Fetcher {
	t.Helper()
	var manager *cache.Manager
	if withCache {
		manager = cache.NewManager(cache.NewMemoryStore(), testLogger())
	}
	f, err := New(p, manager, cfg, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f
}

func TestFetchOne_LiveSuccess(t *testing.T) {
	p := healthy()
	f := newTestFetcher(t, p, true, fastConfig())

	result := f.FetchOne(context.Background(), testRequest("AAPL"))
	if result.Status != quote.StatusOK {
		t.Fatalf("Status = %v, want ok (err: %v)", result.Status, result.Err)
	}
	if result.Source != quote.SourceLive {
		t.Errorf("Source = %v, want live", result.Source)
	}
	if len(result.Candles) != 1 {
		t.Errorf("Candles = %d, want 1", len(result.Candles))
	}
	if p.calls.Load() != 1 {
		t.Errorf("Provider calls = %d, want 1", p.calls.Load())
	}
}

func TestFetchOne_SecondFetchWithinTTLServedFromCache(t *testing.T) {
	p := healthy()
	f := newTestFetcher(t, p, true, fastConfig())
	ctx := context.Background()
	req := testRequest("AAPL")

	first := f.FetchOne(ctx, req)
	if first.Source != quote.SourceLive {
		t.Fatalf("First fetch Source = %v, want live", first.Source)
	}

	second := f.FetchOne(ctx, req)
	if second.Source != quote.SourceCache {
		t.Errorf("Second fetch Source = %v, want cache", second.Source)
	}
	if second.Status != quote.StatusCached {
		t.Errorf("Second fetch Status = %v, want cached", second.Status)
	}
	if p.calls.Load() != 1 {
		t.Errorf("Provider calls = %d, want 1 (second fetch must not hit the provider)", p.calls.Load())
	}
}

func TestFetchOne_FatalErrorNotRetried(t *testing.T) {
	p := alwaysFailing(provider.Fatal("invalid symbol", nil))
	f := newTestFetcher(t, p, false, fastConfig())

	result := f.FetchOne(context.Background(), testRequest("NOPE"))
	if result.Status != quote.StatusError {
		t.Fatalf("Status = %v, want error", result.Status)
	}
	if result.ErrorKind != quote.KindFatal {
		t.Errorf("ErrorKind = %v, want fatal", result.ErrorKind)
	}
	if p.calls.Load() != 1 {
		t.Errorf("Provider calls = %d, want 1 (fatal errors are never retried)", p.calls.Load())
	}
}

func TestFetchOne_TransientErrorRetriedThenExhausted(t *testing.T) {
	p := alwaysFailing(provider.Transient("connection reset", nil))
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	f := newTestFetcher(t, p, false, cfg)

	result := f.FetchOne(context.Background(), testRequest("AAPL"))
	if result.ErrorKind != quote.KindRetriesExhausted {
		t.Errorf("ErrorKind = %v, want retries_exhausted", result.ErrorKind)
	}
	if p.calls.Load() != 3 {
		t.Errorf("Provider calls = %d, want 3 (MaxAttempts)", p.calls.Load())
	}
}

func TestFetchOne_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	// failureThreshold=3: three consecutive failing fetches trip the
	// circuit; the fourth is rejected without any provider call.
	p := alwaysFailing(provider.Transient("provider down", nil))
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 3
	cfg.Cooldown = time.Minute
	f := newTestFetcher(t, p, false, cfg)
	ctx := context.Background()
	req := testRequest("AAPL")

	for i := 0; i < 3; i++ {
		result := f.FetchOne(ctx, req)
		if result.Status != quote.StatusError {
			t.Fatalf("Fetch %d should fail", i+1)
		}
	}

	if f.BreakerState() != breaker.StateOpen {
		t.Fatalf("BreakerState = %v, want open", f.BreakerState())
	}

	before := p.calls.Load()
	result := f.FetchOne(ctx, req)
	if result.ErrorKind != quote.KindCircuitOpen {
		t.Errorf("ErrorKind = %v, want circuit_open", result.ErrorKind)
	}
	if p.calls.Load() != before {
		t.Error("Open circuit must not reach the provider")
	}
}

func TestFetchOne_RateLimitedFailFast(t *testing.T) {
	p := healthy()
	cfg := fastConfig()
	cfg.WaitForSlot = false
	cfg.MaxRequestsPerWindow = 1
	cfg.Window = time.Minute
	f := newTestFetcher(t, p, false, cfg)
	ctx := context.Background()

	first := f.FetchOne(ctx, testRequest("AAPL"))
	if first.Status != quote.StatusOK {
		t.Fatalf("First fetch failed: %v", first.Err)
	}

	second := f.FetchOne(ctx, testRequest("MSFT"))
	if second.ErrorKind != quote.KindRateLimited {
		t.Errorf("ErrorKind = %v, want rate_limited", second.ErrorKind)
	}
	if p.calls.Load() != 1 {
		t.Errorf("Provider calls = %d, want 1 (rate-limited fetch never reaches the provider)", p.calls.Load())
	}
}

func TestFetchOne_CacheUnavailableDegradesToProvider(t *testing.T) {
	p := healthy()
	manager := cache.NewManager(unavailableStore{}, testLogger())
	f, err := New(p, manager, fastConfig(), testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result := f.FetchOne(context.Background(), testRequest("AAPL"))
	if result.Status != quote.StatusOK {
		t.Fatalf("Status = %v, want ok; cache failure must not fail the fetch (err: %v)", result.Status, result.Err)
	}
	if result.Source != quote.SourceLive {
		t.Errorf("Source = %v, want live", result.Source)
	}
}

type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}
func (unavailableStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (unavailableStore) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func TestFetchBatch_OneFatalItemDoesNotAbortBatch(t *testing.T) {
	p := &countingProvider{}
	p.fn = func(_ context.Context, req quote.FetchRequest) ([]quote.Candle, error) {
		if req.Symbol == "BAD" {
			return nil, provider.Fatal("invalid symbol", nil)
		}
		return testCandles(), nil
	}
	f := newTestFetcher(t, p, false, fastConfig())

	reqs := []quote.FetchRequest{
		testRequest("AAPL"),
		testRequest("BAD"),
		testRequest("MSFT"),
		testRequest("GOOG"),
	}

	results := f.FetchBatch(context.Background(), reqs, 2)
	if len(results) != 4 {
		t.Fatalf("Results = %d, want 4", len(results))
	}

	okCount := 0
	for _, req := range reqs {
		r, exists := results[req.Key()]
		if !exists {
			t.Fatalf("Missing result for %s", req.Symbol)
		}
		if r.OK() {
			okCount++
		}
	}
	if okCount != 3 {
		t.Errorf("OK results = %d, want 3", okCount)
	}

	bad := results[testRequest("BAD").Key()]
	if bad.ErrorKind != quote.KindFatal {
		t.Errorf("BAD ErrorKind = %v, want fatal", bad.ErrorKind)
	}
}

func TestFetchBatch_BoundedConcurrency(t *testing.T) {
	var inFlight atomic.Int64
	var peak atomic.Int64

	p := &countingProvider{}
	p.fn = func(context.Context, quote.FetchRequest) ([]quote.Candle, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return testCandles(), nil
	}
	f := newTestFetcher(t, p, false, fastConfig())

	reqs := make([]quote.FetchRequest, 12)
	for i := range reqs {
		reqs[i] = testRequest("SYM" + string(rune('A'+i)))
	}

	results := f.FetchBatch(context.Background(), reqs, 3)
	if len(results) != 12 {
		t.Fatalf("Results = %d, want 12", len(results))
	}
	if got := peak.Load(); got > 3 {
		t.Errorf("Peak concurrency = %d, want <= 3", got)
	}
}

func TestFetchBatch_DeadlineMarksUnstartedItemsTimeout(t *testing.T) {
	p := &countingProvider{}
	p.fn = func(ctx context.Context, _ quote.FetchRequest) ([]quote.Candle, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return testCandles(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := newTestFetcher(t, p, false, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	reqs := make([]quote.FetchRequest, 8)
	for i := range reqs {
		reqs[i] = testRequest("SYM" + string(rune('A'+i)))
	}

	results := f.FetchBatch(ctx, reqs, 1)
	if len(results) != 8 {
		t.Fatalf("Every request must get a result, got %d", len(results))
	}

	var okCount, timeoutCount int
	for _, r := range results {
		switch {
		case r.OK():
			okCount++
		case r.ErrorKind == quote.KindTimeout:
			timeoutCount++
		}
	}
	if okCount == 0 {
		t.Error("Items completed before the deadline should stay ok")
	}
	if timeoutCount == 0 {
		t.Error("Items cut off by the deadline should be marked timeout")
	}
}

func TestFetchBatch_Empty(t *testing.T) {
	f := newTestFetcher(t, healthy(), false, fastConfig())
	results := f.FetchBatch(context.Background(), nil, 4)
	if len(results) != 0 {
		t.Errorf("Results = %d, want 0", len(results))
	}
}

func TestSuccessRate(t *testing.T) {
	p := &countingProvider{}
	p.fn = func(_ context.Context, req quote.FetchRequest) ([]quote.Candle, error) {
		if req.Symbol == "BAD" {
			return nil, provider.Fatal("invalid symbol", nil)
		}
		return testCandles(), nil
	}
	f := newTestFetcher(t, p, false, fastConfig())
	ctx := context.Background()

	if got := f.SuccessRate(); got != 0 {
		t.Errorf("SuccessRate before any fetch = %v, want 0", got)
	}

	f.FetchOne(ctx, testRequest("AAPL"))
	f.FetchOne(ctx, testRequest("MSFT"))
	f.FetchOne(ctx, testRequest("BAD"))

	want := 2.0 / 3.0
	if got := f.SuccessRate(); got < want-0.001 || got > want+0.001 {
		t.Errorf("SuccessRate = %v, want %v", got, want)
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	if _, err := New(nil, nil, DefaultConfig(), testLogger()); err == nil {
		t.Error("Expected error for nil provider")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	f, err := New(healthy(), nil, Config{}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	def := DefaultConfig()
	if f.config.MaxRequestsPerWindow != def.MaxRequestsPerWindow {
		t.Errorf("MaxRequestsPerWindow = %d, want default %d",
			f.config.MaxRequestsPerWindow, def.MaxRequestsPerWindow)
	}
	if f.config.MaxConcurrency != def.MaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want default %d", f.config.MaxConcurrency, def.MaxConcurrency)
	}
	if f.classify == nil {
		t.Error("Classifier default not applied")
	}
}
