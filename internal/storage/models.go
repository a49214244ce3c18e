package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Table names one of the append-only series tables.
type Table string

const (
	TablePrices          Table = "prices"
	TableMarketCaps      Table = "market_caps"
	TableHourlyPrices    Table = "hourly_prices"
	TableDailyPrices     Table = "daily_prices"
	TableDailyMarketCaps Table = "daily_market_caps"
)

type tableSpec struct {
	valueColumn string
	hasSource   bool
}

var tables = map[Table]tableSpec{
	TablePrices:          {valueColumn: "price", hasSource: true},
	TableMarketCaps:      {valueColumn: "market_cap", hasSource: true},
	TableHourlyPrices:    {valueColumn: "price"},
	TableDailyPrices:     {valueColumn: "price"},
	TableDailyMarketCaps: {valueColumn: "market_cap"},
}

// ParseTable resolves a table name.
func ParseTable(name string) (Table, error) {
	t := Table(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := tables[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Tables lists every known table.
func Tables() []Table {
	return []Table{TablePrices, TableMarketCaps, TableHourlyPrices, TableDailyPrices, TableDailyMarketCaps}
}

// ValueColumn is the name of the decimal column.
func (t Table) ValueColumn() string {
	return tables[t].valueColumn
}

// HasSource reports whether rows carry a quote provider label.
func (t Table) HasSource() bool {
	return tables[t].hasSource
}

func (t Table) valid() bool {
	_, ok := tables[t]
	return ok
}

// Row is one immutable observation in any series table.
type Row struct {
	Table     Table
	ID        int64
	Source    string
	Address   string
	Value     decimal.Decimal
	CreatedAt time.Time
}

// MarshalJSON emits the value under the table's column name, mirroring the stored row.
func (r Row) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 5)
	out["id"] = r.ID
	out["address"] = r.Address
	out["timestamp"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	column := r.Table.ValueColumn()
	if column == "" {
		column = "value"
	}
	out[column] = r.Value.String()
	if r.Table.HasSource() {
		out["source"] = r.Source
	}
	return json.Marshal(out)
}

// AggregateSpec describes one trailing-window average from a sample table into a rollup table.
type AggregateSpec struct {
	Source      Table
	Destination Table
	Window      time.Duration
	Addresses   []string
}

func (a AggregateSpec) validate() error {
	if !a.Source.valid() || !a.Destination.valid() {
		return fmt.Errorf("%w: %s -> %s", ErrUnknownTable, a.Source, a.Destination)
	}
	if a.Source.ValueColumn() != a.Destination.ValueColumn() {
		return fmt.Errorf("storage: %s and %s hold different series", a.Source, a.Destination)
	}
	if a.Window <= 0 {
		return fmt.Errorf("storage: aggregate window must be positive")
	}
	if len(a.Addresses) == 0 {
		return fmt.Errorf("storage: aggregate needs at least one address")
	}
	return nil
}
