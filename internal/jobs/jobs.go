// Package jobs holds the units of work the dispatcher runs on each cadence.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-indexer/internal/fetcher"
	"token-indexer/internal/instrument"
	"token-indexer/internal/marketcap"
	"token-indexer/internal/observability"
	"token-indexer/internal/rollup"
	"token-indexer/internal/storage"
)

const (
	IngestPricesName    = "ingest_prices"
	IngestMarketCapName = "ingest_market_cap"
	rollupPrefix        = "rollup_"
)

// Job is one unit of work. Run returns nil on success.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Dependent is implemented by jobs that must not run after a named job failed
// earlier in the same invocation.
type Dependent interface {
	DependsOn() []string
}

// Deps bundles collaborators shared by the jobs.
type Deps struct {
	Prices      fetcher.PriceFetcher
	Supplies    fetcher.SupplyFetcher
	Store       storage.Gateway
	Instruments *instrument.Set
	Source      string
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

// PriceIngestion appends one price sample per instrument.
type PriceIngestion struct {
	deps   Deps
	logger zerolog.Logger
}

// NewPriceIngestion constructs the ingest_prices job.
func NewPriceIngestion(deps Deps) *PriceIngestion {
	return &PriceIngestion{deps: deps, logger: deps.Logger.With().Str("job", IngestPricesName).Logger()}
}

// Name implements Job.
func (j *PriceIngestion) Name() string { return IngestPricesName }

// Run fetches spot prices and appends them in a single batch.
func (j *PriceIngestion) Run(ctx context.Context) error {
	instruments := j.deps.Instruments.All()

	prices, err := j.deps.Prices.FetchSpotPrices(ctx, instruments)
	if err != nil {
		j.deps.Metrics.UpstreamFailed("price")
		return fmt.Errorf("fetch spot prices: %w", err)
	}

	rows := make([]storage.Row, 0, len(instruments))
	for _, inst := range instruments {
		price, err := quoteFor(prices, inst)
		if err != nil {
			return err
		}
		rows = append(rows, storage.Row{
			Source:  j.deps.Source,
			Address: inst.Address,
			Value:   price,
		})
	}

	if err := j.deps.Store.AppendSamples(ctx, storage.TablePrices, rows); err != nil {
		return fmt.Errorf("append prices: %w", err)
	}
	j.deps.Metrics.AddRows(string(storage.TablePrices), len(rows))

	j.logger.Info().Dict("prices", priceDict(instruments, prices)).Msg("prices recorded")
	return nil
}

// MarketCapIngestion appends one market cap sample per instrument.
//
// Price and supply come from two separate upstream calls, so a stored market cap
// may pair a price and a supply that never coexisted at one instant.
type MarketCapIngestion struct {
	deps   Deps
	logger zerolog.Logger
}

// NewMarketCapIngestion constructs the ingest_market_cap job.
func NewMarketCapIngestion(deps Deps) *MarketCapIngestion {
	return &MarketCapIngestion{deps: deps, logger: deps.Logger.With().Str("job", IngestMarketCapName).Logger()}
}

// Name implements Job.
func (j *MarketCapIngestion) Name() string { return IngestMarketCapName }

// Run fetches prices and supplies, multiplies them and appends the batch.
func (j *MarketCapIngestion) Run(ctx context.Context) error {
	instruments := j.deps.Instruments.All()

	prices, err := j.deps.Prices.FetchSpotPrices(ctx, instruments)
	if err != nil {
		j.deps.Metrics.UpstreamFailed("price")
		return fmt.Errorf("fetch spot prices: %w", err)
	}

	supplies, err := j.deps.Supplies.FetchSupplies(ctx, instruments)
	if err != nil {
		j.deps.Metrics.UpstreamFailed("ledger")
		return fmt.Errorf("fetch supplies: %w", err)
	}

	rows := make([]storage.Row, 0, len(instruments))
	caps := make(map[string]decimal.Decimal, len(instruments))
	for _, inst := range instruments {
		price, err := quoteFor(prices, inst)
		if err != nil {
			return err
		}
		supply, ok := supplies[inst.Address]
		if !ok {
			return fmt.Errorf("fetch supplies: %w: no supply for %s", fetcher.ErrUpstreamUnavailable, inst.Name)
		}
		value := marketcap.Compute(price, supply)
		caps[inst.Address] = value
		rows = append(rows, storage.Row{
			Source:  j.deps.Source,
			Address: inst.Address,
			Value:   value,
		})
	}

	if err := j.deps.Store.AppendSamples(ctx, storage.TableMarketCaps, rows); err != nil {
		return fmt.Errorf("append market caps: %w", err)
	}
	j.deps.Metrics.AddRows(string(storage.TableMarketCaps), len(rows))

	j.logger.Info().Dict("market_caps", priceDict(instruments, caps)).Msg("market caps recorded")
	return nil
}

// Rollup runs one rollup definition.
type Rollup struct {
	def        rollup.Definition
	aggregator *rollup.Aggregator
	metrics    *observability.Metrics
}

// NewRollup wraps a definition as a job named rollup_<definition>.
func NewRollup(def rollup.Definition, aggregator *rollup.Aggregator, metrics *observability.Metrics) *Rollup {
	return &Rollup{def: def, aggregator: aggregator, metrics: metrics}
}

// Name implements Job.
func (j *Rollup) Name() string { return RollupName(j.def.Name) }

// DependsOn implements Dependent.
func (j *Rollup) DependsOn() []string { return j.def.DependsOn }

// Run implements Job.
func (j *Rollup) Run(ctx context.Context) error {
	written, err := j.aggregator.ComputeWindowAverage(ctx, j.def)
	if err != nil {
		return err
	}
	j.metrics.AddRows(string(j.def.Destination), len(written))
	return nil
}

// quoteFor rejects a price map that lacks the instrument instead of storing a zero.
func quoteFor(prices map[string]decimal.Decimal, inst instrument.Instrument) (decimal.Decimal, error) {
	price, ok := prices[inst.Address]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("fetch spot prices: %w: %s", fetcher.ErrMissingQuote, inst.Name)
	}
	return price, nil
}

// RollupName is the job name for a rollup definition.
func RollupName(definition string) string {
	return rollupPrefix + definition
}

// Registry resolves job names.
type Registry struct {
	jobs map[string]Job
}

// NewRegistry builds a registry; duplicate names are rejected.
func NewRegistry(list ...Job) (*Registry, error) {
	r := &Registry{jobs: make(map[string]Job, len(list))}
	for _, j := range list {
		if _, ok := r.jobs[j.Name()]; ok {
			return nil, fmt.Errorf("duplicate job %q", j.Name())
		}
		r.jobs[j.Name()] = j
	}
	return r, nil
}

// Resolve maps names to jobs in the given order.
func (r *Registry) Resolve(names []string) ([]Job, error) {
	out := make([]Job, 0, len(names))
	var unknown []string
	for _, name := range names {
		j, ok := r.jobs[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, j)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown jobs: %s (known: %s)", strings.Join(unknown, ","), strings.Join(r.Names(), ","))
	}
	return out, nil
}

// Names lists registered jobs sorted by name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build registers the ingestion jobs plus one rollup job per definition.
func Build(deps Deps, defs []rollup.Definition) (*Registry, error) {
	if deps.Instruments == nil || deps.Store == nil {
		return nil, errors.New("jobs: instruments and store are required")
	}
	if deps.Prices == nil || deps.Supplies == nil {
		return nil, errors.New("jobs: price and supply fetchers are required")
	}

	aggregator := rollup.NewAggregator(deps.Store, deps.Instruments, deps.Logger)
	list := []Job{NewPriceIngestion(deps), NewMarketCapIngestion(deps)}
	for _, def := range defs {
		list = append(list, NewRollup(def, aggregator, deps.Metrics))
	}
	return NewRegistry(list...)
}

func priceDict(instruments []instrument.Instrument, values map[string]decimal.Decimal) *zerolog.Event {
	dict := zerolog.Dict()
	for _, inst := range instruments {
		dict = dict.Str(inst.Name, values[inst.Address].String())
	}
	return dict
}

// Func adapts a function into a Job, used for ad-hoc jobs and tests.
type Func struct {
	JobName string
	Deps    []string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (f Func) Name() string { return f.JobName }

// DependsOn implements Dependent.
func (f Func) DependsOn() []string { return f.Deps }

// Run implements Job.
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }
