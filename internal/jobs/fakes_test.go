package jobs

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"token-indexer/internal/fetcher"
	"token-indexer/internal/instrument"
	"token-indexer/internal/storage"
)

const (
	antiAddr = "HB8KrN7Bb3iLWUPsozp67kS4gxtbA4W5QJX4wKPvpump"
	proAddr  = "CWFa2nxUMf5d1WwKtG9FS9kjUKGwKXWSjH8hFdWspump"
)

type staticPriceFetcher struct {
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (s *staticPriceFetcher) FetchSpotPrices(_ context.Context, _ []instrument.Instrument) (map[string]decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.prices, nil
}

type staticSupplyFetcher struct {
	supplies map[string]decimal.Decimal
	err      error
}

func (s *staticSupplyFetcher) FetchSupply(_ context.Context, inst instrument.Instrument) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return s.supplies[inst.Address], nil
}

func (s *staticSupplyFetcher) FetchSupplies(_ context.Context, _ []instrument.Instrument) (map[string]decimal.Decimal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.supplies, nil
}

var (
	_ fetcher.PriceFetcher  = (*staticPriceFetcher)(nil)
	_ fetcher.SupplyFetcher = (*staticSupplyFetcher)(nil)
)

func testDeps(t *testing.T, prices *staticPriceFetcher, supplies *staticSupplyFetcher) (Deps, *storage.MemoryStore) {
	t.Helper()
	set, err := instrument.NewSet([]instrument.Instrument{{Name: "ANTI", Address: antiAddr}, {Name: "PRO", Address: proAddr}})
	require.NoError(t, err)

	store := storage.NewMemoryStore(set.Addresses()...)
	return Deps{
		Prices:      prices,
		Supplies:    supplies,
		Store:       store,
		Instruments: set,
		Source:      "raydium",
		Logger:      zerolog.Nop(),
	}, store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
