// Package rollup computes trailing-window averages over stored samples.
package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"token-indexer/internal/instrument"
	"token-indexer/internal/logging"
	"token-indexer/internal/storage"
)

// Definition is one (window, destination) pair. Definitions are independent of each
// other; adding one never changes another.
type Definition struct {
	Name        string
	Source      storage.Table
	Destination storage.Table
	Window      time.Duration
	DependsOn   []string
}

// NewDefinition validates table names and window.
func NewDefinition(name, source, destination string, window time.Duration, dependsOn []string) (Definition, error) {
	src, err := storage.ParseTable(source)
	if err != nil {
		return Definition{}, fmt.Errorf("rollup %s: %w", name, err)
	}
	dst, err := storage.ParseTable(destination)
	if err != nil {
		return Definition{}, fmt.Errorf("rollup %s: %w", name, err)
	}
	if !src.HasSource() {
		return Definition{}, fmt.Errorf("rollup %s: source %s is not a sample table", name, src)
	}
	if dst.HasSource() {
		return Definition{}, fmt.Errorf("rollup %s: destination %s is a sample table", name, dst)
	}
	if src.ValueColumn() != dst.ValueColumn() {
		return Definition{}, fmt.Errorf("rollup %s: %s cannot roll up into %s", name, src, dst)
	}
	if window <= 0 {
		return Definition{}, fmt.Errorf("rollup %s: window must be positive", name)
	}
	return Definition{
		Name:        name,
		Source:      src,
		Destination: dst,
		Window:      window,
		DependsOn:   dependsOn,
	}, nil
}

// SortDefinitions orders definitions by name for stable registration.
func SortDefinitions(defs []Definition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
}

// Aggregator writes rollup rows through the persistence gateway.
type Aggregator struct {
	store       storage.Gateway
	instruments *instrument.Set
	logger      zerolog.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(store storage.Gateway, instruments *instrument.Set, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:       store,
		instruments: instruments,
		logger:      logging.Component(logger, "rollup"),
	}
}

// ComputeWindowAverage averages each instrument's samples over the trailing window
// and appends one rollup row per instrument that had samples. The average and the
// window filter run as one store-side aggregation.
func (a *Aggregator) ComputeWindowAverage(ctx context.Context, def Definition) ([]storage.Row, error) {
	written, err := a.store.AggregateInsert(ctx, storage.AggregateSpec{
		Source:      def.Source,
		Destination: def.Destination,
		Window:      def.Window,
		Addresses:   a.instruments.Addresses(),
	})
	if err != nil {
		return nil, fmt.Errorf("rollup %s: %w", def.Name, err)
	}

	if skipped := a.instruments.Len() - len(written); skipped > 0 {
		a.logger.Info().Str("rollup", def.Name).Int("skipped", skipped).
			Msg("instruments without samples in window; no rollup row written")
	}
	for _, row := range written {
		inst, _ := a.instruments.Lookup(row.Address)
		a.logger.Debug().Str("rollup", def.Name).Str("instrument", inst.Name).
			Str("average", row.Value.String()).Msg("rollup row written")
	}
	return written, nil
}
