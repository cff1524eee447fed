// Package testutil provides testing utilities for the market-data
// client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior of a mock vendor endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockProvider is a configurable mock vendor API server.
type MockProvider struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requestCount int
	lastQuery    map[string]string
}

// NewMockProvider creates a mock vendor server. Responses are keyed by
// the requested symbol.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")

		mock.mu.Lock()
		mock.requestCount++
		mock.lastQuery = map[string]string{}
		for k := range r.URL.Query() {
			mock.lastQuery[k] = r.URL.Query().Get(k)
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[symbol]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// Reset clears tracking counters.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastQuery = nil
}

// SetHandler installs a custom handler for a symbol.
func (m *MockProvider) SetHandler(symbol string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[symbol] = handler
}

// SetResponse configures a static response for a symbol.
func (m *MockProvider) SetResponse(symbol string, resp MockResponse) {
	m.SetHandler(symbol, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests the server received.
func (m *MockProvider) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastQuery returns the query parameters of the most recent request.
func (m *MockProvider) LastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// defaultHandler serves a small healthy candle payload.
func (m *MockProvider) defaultHandler(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, CandlesBody(symbol, 2))
}

// CandlesBody builds a valid candle payload with n bars for symbol.
func CandlesBody(symbol string, n int) string {
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	body := fmt.Sprintf(`{"symbol":%q,"candles":[`, symbol)
	for i := 0; i < n; i++ {
		if i > 0 {
			body += ","
		}
		ts := base.Add(time.Duration(i) * 24 * time.Hour).Unix()
		price := 100.0 + float64(i)
		body += fmt.Sprintf(`{"time":%d,"open":%.1f,"high":%.1f,"low":%.1f,"close":%.1f,"volume":1000}`,
			ts, price, price+1, price-1, price+0.5)
	}
	return body + "]}"
}

// NewNotFoundResponse creates a 404 unknown-symbol response.
func NewNotFoundResponse(symbol string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf(`{"error": "unknown symbol %s"}`, symbol),
	}
}

// NewThrottledResponse creates a 429 vendor-throttling response.
func NewThrottledResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
	}
}
