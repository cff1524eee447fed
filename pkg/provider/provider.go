// Package provider adapts the external market-data vendor behind a
// small fetch interface. It is the only component in the pipeline
// that performs I/O against the provider.
package provider

import (
	"context"

	"github.com/quantora/marketdata-client/pkg/quote"
)

// Provider performs one logical fetch against the external vendor and
// normalizes its response and errors into the internal taxonomy.
type Provider interface {
	Fetch(ctx context.Context, req quote.FetchRequest) ([]quote.Candle, error)
}

// Func adapts a plain function into a Provider.
type Func func(ctx context.Context, req quote.FetchRequest) ([]quote.Candle, error)

// Fetch implements Provider.
func (f Func) Fetch(ctx context.Context, req quote.FetchRequest) ([]quote.Candle, error) {
	return f(ctx, req)
}
