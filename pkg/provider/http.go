package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantora/marketdata-client/pkg/quote"
)

// HTTPConfig holds the HTTP provider configuration.
type HTTPConfig struct {
	// BaseURL is the vendor API root, e.g. "https://api.example.com".
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds each individual call.
	Timeout time.Duration

	// UserAgent identifies this client to the vendor.
	UserAgent string
}

// DefaultHTTPConfig returns safe defaults for the given base URL.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:   baseURL,
		Timeout:   15 * time.Second,
		UserAgent: "marketdata-client/0.1.0",
	}
}

// HTTPProvider fetches candles from a JSON-over-HTTP vendor API.
type HTTPProvider struct {
	config     HTTPConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPProvider creates an HTTP provider.
func NewHTTPProvider(cfg HTTPConfig, logger zerolog.Logger) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPConfig(cfg.BaseURL).Timeout
	}
	return &HTTPProvider{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// candlesResponse is the vendor's wire shape.
type candlesResponse struct {
	Symbol  string `json:"symbol"`
	Candles []struct {
		Time   int64   `json:"time"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"candles"`
	Error string `json:"error,omitempty"`
}

// Fetch performs one call against the vendor and normalizes the
// outcome. Every failure is returned as a *Error carrying its kind.
func (p *HTTPProvider) Fetch(ctx context.Context, req quote.FetchRequest) ([]quote.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, Fatal(fmt.Sprintf("malformed request: %v", err), err)
	}

	// The per-call timeout is layered under the caller's deadline so
	// the two are distinguishable: an expired caller deadline is a
	// pipeline timeout, an expired per-call timeout is a transient
	// provider failure worth retrying.
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	u := fmt.Sprintf("%s/v1/candles?%s", p.config.BaseURL, url.Values{
		"symbol":      []string{req.Symbol},
		"granularity": []string{string(req.Granularity)},
		"start":       []string{req.Range.Start.UTC().Format(time.RFC3339)},
		"end":         []string{req.Range.End.UTC().Format(time.RFC3339)},
	}.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Fatal("create request", err)
	}
	httpReq.Header.Set("User-Agent", p.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	p.logger.Debug().
		Str("symbol", req.Symbol).
		Str("granularity", string(req.Granularity)).
		Msg("Fetching from provider")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		switch {
		case errors.Is(parent.Err(), context.DeadlineExceeded):
			return nil, &Error{Kind: quote.KindTimeout, Message: "deadline exceeded", Err: err}
		case parent.Err() != nil:
			return nil, parent.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, Transient("provider call timed out", err)
		default:
			return nil, Transient("network failure", err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient("read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp.StatusCode, body)
	}

	var wire candlesResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, Transient("decode response", err)
	}
	if wire.Error != "" {
		return nil, Fatal(wire.Error, nil)
	}

	candles := make([]quote.Candle, 0, len(wire.Candles))
	for _, c := range wire.Candles {
		// Skip empty placeholder bars (holidays, halted sessions).
		if c.Open == 0 && c.High == 0 && c.Low == 0 && c.Close == 0 {
			continue
		}
		candles = append(candles, quote.Candle{
			Time:   time.Unix(c.Time, 0).UTC(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })

	return candles, nil
}

// statusError maps a non-200 vendor status onto the error taxonomy.
func (p *HTTPProvider) statusError(status int, body []byte) *Error {
	message := vendorMessage(body)

	switch {
	case status == http.StatusNotFound:
		return &Error{Kind: quote.KindFatal, StatusCode: status, Message: "symbol not found: " + message}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: quote.KindTransient, StatusCode: status, Message: "provider throttling: " + message}
	case status >= 400 && status < 500:
		return &Error{Kind: quote.KindFatal, StatusCode: status, Message: message}
	case status >= 500:
		return &Error{Kind: quote.KindTransient, StatusCode: status, Message: message}
	default:
		return &Error{Kind: quote.KindTransient, StatusCode: status, Message: message}
	}
}

// vendorMessage extracts the error field from a vendor error body,
// falling back to the raw body.
func vendorMessage(body []byte) string {
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		return wire.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
