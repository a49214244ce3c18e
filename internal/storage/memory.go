package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Gateway. A single mutex gives every call the
// same single read point the SQL store gets from one statement.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[Table][]Row
	nextID int64
	guard  addressGuard
	now    func() time.Time

	// FailAppend, when set, is returned by AppendSamples before anything is written.
	FailAppend error
}

// NewMemoryStore creates an empty store restricted to the given addresses.
func NewMemoryStore(addresses ...string) *MemoryStore {
	return &MemoryStore{
		rows:  make(map[Table][]Row),
		guard: newAddressGuard(addresses),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source, used to place samples inside or outside windows.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// AppendSamples validates the whole batch before writing any row.
func (m *MemoryStore) AppendSamples(_ context.Context, table Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := validateAppend(m.guard, table, rows); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend != nil {
		return fmt.Errorf("%w: append %s: %w", ErrStore, table, m.FailAppend)
	}

	ts := m.now()
	for _, r := range rows {
		m.nextID++
		r.Table = table
		r.ID = m.nextID
		r.CreatedAt = ts
		if !table.HasSource() {
			r.Source = ""
		}
		m.rows[table] = append(m.rows[table], r)
	}
	return nil
}

// QueryLatest returns the newest row for the address.
func (m *MemoryStore) QueryLatest(ctx context.Context, table Table, address string) (Row, error) {
	rows, err := m.QueryAll(ctx, table, address)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, ErrNotFound
	}
	return rows[len(rows)-1], nil
}

// QueryAll returns the address history ordered by timestamp then id.
func (m *MemoryStore) QueryAll(_ context.Context, table Table, address string) ([]Row, error) {
	if !table.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filter(table, func(r Row) bool { return r.Address == address }), nil
}

// QueryBetween returns rows with from <= created_at < to.
func (m *MemoryStore) QueryBetween(_ context.Context, table Table, address string, from, to time.Time) ([]Row, error) {
	if !table.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filter(table, func(r Row) bool {
		return r.Address == address && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to)
	}), nil
}

// AggregateInsert averages the trailing window per address under one lock.
func (m *MemoryStore) AggregateInsert(_ context.Context, spec AggregateSpec) ([]Row, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-spec.Window)

	type acc struct {
		sum   decimal.Decimal
		count int64
	}
	groups := make(map[string]*acc, len(spec.Addresses))
	for _, a := range spec.Addresses {
		groups[a] = &acc{}
	}
	for _, r := range m.rows[spec.Source] {
		g, ok := groups[r.Address]
		if !ok || r.CreatedAt.Before(cutoff) {
			continue
		}
		g.sum = g.sum.Add(r.Value)
		g.count++
	}

	written := make([]Row, 0, len(spec.Addresses))
	for _, address := range spec.Addresses {
		g := groups[address]
		if g.count == 0 {
			continue
		}
		m.nextID++
		row := Row{
			Table:     spec.Destination,
			ID:        m.nextID,
			Address:   address,
			Value:     average(g.sum, g.count),
			CreatedAt: now,
		}
		m.rows[spec.Destination] = append(m.rows[spec.Destination], row)
		written = append(written, row)
	}
	return written, nil
}

// Count reports the number of rows held for a table.
func (m *MemoryStore) Count(table Table) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows[table])
}

func (m *MemoryStore) filter(table Table, keep func(Row) bool) []Row {
	out := make([]Row, 0)
	for _, r := range m.rows[table] {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// averageScale is the number of decimal places rollup averages are rounded to,
// half away from zero, by both stores.
const averageScale = 20

// average rounds like Postgres round(); String() drops trailing zeros like trim_scale.
func average(sum decimal.Decimal, count int64) decimal.Decimal {
	return sum.DivRound(decimal.NewFromInt(count), averageScale)
}

var _ Gateway = (*MemoryStore)(nil)
