package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"token-indexer/internal/instrument"
	"token-indexer/internal/storage"
)

const defaultExportWindow = 7 * 24 * time.Hour

// Export renders one series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	table, err := storage.ParseTable(opts.Table)
	if err != nil {
		return err
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	from, to, err := exportWindow(opts, time.Now().UTC())
	if err != nil {
		return err
	}

	store, set, err := a.requireDatabase(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	inst, ok := set.Lookup(opts.Instrument)
	if !ok {
		return fmt.Errorf("unknown instrument %q", opts.Instrument)
	}

	rows, err := store.QueryBetween(ctx, table, inst.Address, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Str("table", string(table)).Str("instrument", inst.Name).Msg("no rows found for export window")
		return nil
	}

	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting rows")

	if opts.CSVPath != "" {
		if err := writeRowsCSV(opts.CSVPath, table, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRowsPNG(opts.PNGPath, table, inst, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func exportWindow(opts ExportOptions, now time.Time) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleRows(rows []storage.Row, max int) []storage.Row {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]storage.Row, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeRowsCSV(path string, table storage.Table, rows []storage.Row) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"id", "timestamp", "address", table.ValueColumn()}
	if table.HasSource() {
		header = append(header, "source")
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			row.CreatedAt.UTC().Format(time.RFC3339),
			row.Address,
			row.Value.String(),
		}
		if table.HasSource() {
			record = append(record, row.Source)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRowsPNG(path string, table storage.Table, inst instrument.Instrument, rows []storage.Row) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	y := make([]float64, len(rows))
	for i, row := range rows {
		x[i] = row.CreatedAt
		y[i] = row.Value.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s %s", inst.Name, table),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: table.ValueColumn(),
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.6g")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    inst.Name,
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
