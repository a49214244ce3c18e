package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrStore wraps every failure reported by the underlying engine.
	ErrStore = errors.New("storage: store error")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrUnknownTable rejects table names outside the fixed schema.
	ErrUnknownTable = errors.New("storage: unknown table")
	// ErrUnknownAddress rejects rows for addresses outside the configured instruments.
	ErrUnknownAddress = errors.New("storage: unknown address")
)

// Gateway is the narrow persistence surface used by jobs and the read API.
type Gateway interface {
	// AppendSamples inserts all rows in a single statement; either every row lands or none does.
	AppendSamples(ctx context.Context, table Table, rows []Row) error
	// QueryLatest returns the most recent row for the address.
	QueryLatest(ctx context.Context, table Table, address string) (Row, error)
	// QueryAll returns the full history for the address, oldest first.
	QueryAll(ctx context.Context, table Table, address string) ([]Row, error)
	// QueryBetween returns rows with from <= created_at < to, oldest first.
	QueryBetween(ctx context.Context, table Table, address string, from, to time.Time) ([]Row, error)
	// AggregateInsert averages the trailing window per address and inserts one rollup row
	// per address that had samples. It returns the rows written.
	AggregateInsert(ctx context.Context, spec AggregateSpec) ([]Row, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

type addressGuard map[string]struct{}

func newAddressGuard(addresses []string) addressGuard {
	if len(addresses) == 0 {
		return nil
	}
	g := make(addressGuard, len(addresses))
	for _, a := range addresses {
		g[a] = struct{}{}
	}
	return g
}

func (g addressGuard) check(address string) error {
	if g == nil {
		return nil
	}
	if _, ok := g[address]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAddress, address)
	}
	return nil
}

func validateAppend(guard addressGuard, table Table, rows []Row) error {
	if !table.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	for _, r := range rows {
		if err := guard.check(r.Address); err != nil {
			return err
		}
		if table.HasSource() && r.Source == "" {
			return fmt.Errorf("storage: %s row for %s has no source", table, r.Address)
		}
	}
	return nil
}
