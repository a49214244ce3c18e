package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"token-indexer/internal/instrument"
	"token-indexer/internal/storage"
)

// Show prints the most recent rows of one table, per instrument.
func (a *App) Show(ctx context.Context, opts ShowOptions, out io.Writer) error {
	table, err := storage.ParseTable(opts.Table)
	if err != nil {
		return err
	}

	store, set, err := a.requireDatabase(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	targets, err := selectInstruments(set, opts.Instrument)
	if err != nil {
		return err
	}

	return renderRows(ctx, store, table, targets, opts.Limit, out)
}

func selectInstruments(set *instrument.Set, key string) ([]instrument.Instrument, error) {
	if key == "" {
		return set.All(), nil
	}
	inst, ok := set.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("unknown instrument %q", key)
	}
	return []instrument.Instrument{inst}, nil
}

func renderRows(ctx context.Context, store storage.Gateway, table storage.Table, targets []instrument.Instrument, limit int, out io.Writer) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Time (UTC)\tInstrument\t%s\tSource\tID\n", table.ValueColumn())

	printed := 0
	for _, inst := range targets {
		rows, err := store.QueryAll(ctx, table, inst.Address)
		if err != nil {
			return err
		}
		if limit > 0 && len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}
		for i := len(rows) - 1; i >= 0; i-- {
			row := rows[i]
			source := row.Source
			if source == "" {
				source = "-"
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\n",
				row.CreatedAt.UTC().Format(time.RFC3339),
				inst.Name,
				row.Value.String(),
				source,
				row.ID,
			)
			printed++
		}
	}

	if printed == 0 {
		fmt.Fprintf(out, "no rows in %s\n", table)
		return nil
	}
	return writer.Flush()
}
