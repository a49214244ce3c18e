package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-indexer/internal/fetcher"
	"token-indexer/internal/rollup"
	"token-indexer/internal/storage"
)

func TestPriceIngestion(t *testing.T) {
	prices := &staticPriceFetcher{prices: map[string]decimal.Decimal{antiAddr: dec("0.0012"), proAddr: dec("0.5")}}
	deps, store := testDeps(t, prices, &staticSupplyFetcher{})

	job := NewPriceIngestion(deps)
	require.Equal(t, IngestPricesName, job.Name())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 1, prices.calls, "one batched quote call per run")
	assert.Equal(t, 2, store.Count(storage.TablePrices))

	latest, err := store.QueryLatest(context.Background(), storage.TablePrices, proAddr)
	require.NoError(t, err)
	assert.Equal(t, "0.5", latest.Value.String())
	assert.Equal(t, "raydium", latest.Source)
}

func TestPriceIngestionUpstreamFailure(t *testing.T) {
	prices := &staticPriceFetcher{err: fmt.Errorf("%w: boom", fetcher.ErrUpstreamUnavailable)}
	deps, store := testDeps(t, prices, &staticSupplyFetcher{})

	err := NewPriceIngestion(deps).Run(context.Background())
	require.ErrorIs(t, err, fetcher.ErrUpstreamUnavailable)
	assert.Equal(t, 0, store.Count(storage.TablePrices))
}

func TestPriceIngestionStoreFailure(t *testing.T) {
	prices := &staticPriceFetcher{prices: map[string]decimal.Decimal{antiAddr: dec("1"), proAddr: dec("2")}}
	deps, store := testDeps(t, prices, &staticSupplyFetcher{})
	store.FailAppend = errors.New("connection reset")

	err := NewPriceIngestion(deps).Run(context.Background())
	require.ErrorIs(t, err, storage.ErrStore)
}

func TestMarketCapIngestion(t *testing.T) {
	prices := &staticPriceFetcher{prices: map[string]decimal.Decimal{antiAddr: dec("1.5"), proAddr: dec("0.25")}}
	supplies := &staticSupplyFetcher{supplies: map[string]decimal.Decimal{antiAddr: dec("1000000"), proAddr: dec("999999.5")}}
	deps, store := testDeps(t, prices, supplies)

	require.NoError(t, NewMarketCapIngestion(deps).Run(context.Background()))

	anti, err := store.QueryLatest(context.Background(), storage.TableMarketCaps, antiAddr)
	require.NoError(t, err)
	assert.Equal(t, "1500000", anti.Value.String())

	pro, err := store.QueryLatest(context.Background(), storage.TableMarketCaps, proAddr)
	require.NoError(t, err)
	assert.Equal(t, "249999.875", pro.Value.String())
}

func TestMarketCapIngestionSupplyFailure(t *testing.T) {
	prices := &staticPriceFetcher{prices: map[string]decimal.Decimal{antiAddr: dec("1.5"), proAddr: dec("0.25")}}
	supplies := &staticSupplyFetcher{err: fmt.Errorf("PRO: %w", fetcher.ErrUpstreamUnavailable)}
	deps, store := testDeps(t, prices, supplies)

	err := NewMarketCapIngestion(deps).Run(context.Background())
	require.ErrorIs(t, err, fetcher.ErrUpstreamUnavailable)
	assert.Equal(t, 0, store.Count(storage.TableMarketCaps), "no partial supply result may be used")
}

func TestMarketCapIngestionMissingSupply(t *testing.T) {
	prices := &staticPriceFetcher{prices: map[string]decimal.Decimal{antiAddr: dec("1.5"), proAddr: dec("0.25")}}
	supplies := &staticSupplyFetcher{supplies: map[string]decimal.Decimal{antiAddr: dec("1")}}
	deps, store := testDeps(t, prices, supplies)

	err := NewMarketCapIngestion(deps).Run(context.Background())
	require.ErrorIs(t, err, fetcher.ErrUpstreamUnavailable)
	assert.Equal(t, 0, store.Count(storage.TableMarketCaps))
}

func TestIngestionRejectsPartialPriceMap(t *testing.T) {
	partial := map[string]decimal.Decimal{antiAddr: dec("1.5")}
	supplies := &staticSupplyFetcher{supplies: map[string]decimal.Decimal{antiAddr: dec("1"), proAddr: dec("2")}}

	deps, store := testDeps(t, &staticPriceFetcher{prices: partial}, supplies)
	err := NewPriceIngestion(deps).Run(context.Background())
	require.ErrorIs(t, err, fetcher.ErrMissingQuote)
	assert.ErrorContains(t, err, "PRO")
	assert.Equal(t, 0, store.Count(storage.TablePrices), "a zero price must not be stored")

	deps, store = testDeps(t, &staticPriceFetcher{prices: partial}, supplies)
	err = NewMarketCapIngestion(deps).Run(context.Background())
	require.ErrorIs(t, err, fetcher.ErrMissingQuote)
	assert.Equal(t, 0, store.Count(storage.TableMarketCaps))
}

func TestBuildRegistry(t *testing.T) {
	deps, store := testDeps(t,
		&staticPriceFetcher{prices: map[string]decimal.Decimal{antiAddr: dec("1"), proAddr: dec("3")}},
		&staticSupplyFetcher{})

	daily, err := rollup.NewDefinition("daily_price", "prices", "daily_prices", 24*time.Hour, nil)
	require.NoError(t, err)
	mcap, err := rollup.NewDefinition("daily_market_cap", "market_caps", "daily_market_caps", 24*time.Hour, []string{IngestMarketCapName})
	require.NoError(t, err)

	registry, err := Build(deps, []rollup.Definition{daily, mcap})
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest_market_cap", "ingest_prices", "rollup_daily_market_cap", "rollup_daily_price"}, registry.Names())

	list, err := registry.Resolve([]string{"ingest_prices", "rollup_daily_price"})
	require.NoError(t, err)
	for _, j := range list {
		require.NoError(t, j.Run(context.Background()))
	}
	assert.Equal(t, 2, store.Count(storage.TableDailyPrices))

	resolved, err := registry.Resolve([]string{"rollup_daily_market_cap"})
	require.NoError(t, err)
	dep, ok := resolved[0].(Dependent)
	require.True(t, ok)
	assert.Equal(t, []string{IngestMarketCapName}, dep.DependsOn())

	_, err = registry.Resolve([]string{"ingest_prices", "bogus"})
	require.ErrorContains(t, err, "bogus")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	noop := Func{JobName: "x", Fn: func(context.Context) error { return nil }}
	_, err := NewRegistry(noop, noop)
	require.Error(t, err)
}
