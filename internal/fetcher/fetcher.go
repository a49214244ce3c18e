package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"token-indexer/internal/instrument"
)

var (
	// ErrUpstreamUnavailable wraps transport, status and decoding failures from a provider.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMissingQuote marks an instrument absent from an otherwise valid price response.
	ErrMissingQuote = errors.New("missing quote")
)

// PriceFetcher retrieves spot prices for a batch of instruments in one call.
// The result is keyed by instrument address.
type PriceFetcher interface {
	FetchSpotPrices(ctx context.Context, instruments []instrument.Instrument) (map[string]decimal.Decimal, error)
}

// SupplyFetcher retrieves circulating supply from the ledger.
type SupplyFetcher interface {
	FetchSupply(ctx context.Context, inst instrument.Instrument) (decimal.Decimal, error)
	FetchSupplies(ctx context.Context, instruments []instrument.Instrument) (map[string]decimal.Decimal, error)
}
