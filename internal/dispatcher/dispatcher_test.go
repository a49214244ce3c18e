package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-indexer/internal/instrument"
	"token-indexer/internal/jobs"
	"token-indexer/internal/observability"
	"token-indexer/internal/storage"
)

const (
	antiAddr = "HB8KrN7Bb3iLWUPsozp67kS4gxtbA4W5QJX4wKPvpump"
	proAddr  = "CWFa2nxUMf5d1WwKtG9FS9kjUKGwKXWSjH8hFdWspump"
)

type recorder struct {
	mu  sync.Mutex
	ran []string
}

func (r *recorder) job(name string, err error, deps ...string) jobs.Job {
	return jobs.Func{JobName: name, Deps: deps, Fn: func(context.Context) error {
		r.mu.Lock()
		r.ran = append(r.ran, name)
		r.mu.Unlock()
		return err
	}}
}

func newDispatcher() *Dispatcher {
	return New(zerolog.Nop(), observability.NewMetrics("test"))
}

func TestDispatchRunsJobsInOrder(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher()
	require.NoError(t, d.Register("hourly", []jobs.Job{rec.job("a", nil), rec.job("b", nil)}, "0 * * * *"))

	report := d.Dispatch(context.Background(), "0 * * * *")
	require.True(t, report.Recognized)
	assert.Equal(t, "hourly", report.Cadence)
	assert.NotEmpty(t, report.InvocationID)
	assert.False(t, report.Failed())
	assert.Equal(t, []string{"a", "b"}, rec.ran)
	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusCompleted, report.Results[1].Status)
}

func TestDispatchIsolatesFailures(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher()
	require.NoError(t, d.Register("hourly", []jobs.Job{
		rec.job("ingest_market_cap", errors.New("rpc down")),
		rec.job("rollup_hourly_price", nil),
	}))
	require.NoError(t, d.Register("daily", []jobs.Job{rec.job("rollup_daily_price", nil)}))

	hourly := d.Dispatch(context.Background(), "hourly")
	require.True(t, hourly.Failed())
	assert.Equal(t, StatusFailed, hourly.Results[0].Status)
	assert.EqualError(t, hourly.Results[0].Err, "rpc down")
	assert.Equal(t, StatusCompleted, hourly.Results[1].Status, "sibling job still runs")

	daily := d.Dispatch(context.Background(), "daily")
	assert.False(t, daily.Failed())
	assert.NotEqual(t, hourly.InvocationID, daily.InvocationID)
}

func TestDispatchUnknownTriggerRunsNothing(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher()
	require.NoError(t, d.Register("minute", []jobs.Job{rec.job("a", nil)}, "* * * * *"))

	report := d.Dispatch(context.Background(), "*/5 * * * *")
	assert.False(t, report.Recognized)
	assert.Empty(t, report.Results)
	assert.Empty(t, rec.ran)
	assert.Contains(t, report.String(), "not recognised")
}

func TestDispatchSkipsDependentsOfFailedJobs(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher()
	require.NoError(t, d.Register("daily", []jobs.Job{
		rec.job("ingest_market_cap", errors.New("boom")),
		rec.job("rollup_daily_market_cap", nil, "ingest_market_cap"),
		rec.job("rollup_daily_price", nil),
	}))

	report := d.Dispatch(context.Background(), "daily")
	require.Len(t, report.Results, 3)
	assert.Equal(t, StatusSkipped, report.Results[1].Status)
	assert.ErrorContains(t, report.Results[1].Err, "ingest_market_cap")
	assert.Equal(t, StatusCompleted, report.Results[2].Status)
	assert.Equal(t, []string{"ingest_market_cap", "rollup_daily_price"}, rec.ran)
	assert.Len(t, report.Failures(), 2)
}

func TestDispatchRecoversPanics(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher()
	require.NoError(t, d.Register("minute", []jobs.Job{
		jobs.Func{JobName: "explodes", Fn: func(context.Context) error { panic("nil map") }},
		rec.job("after", nil),
	}))

	report := d.Dispatch(context.Background(), "minute")
	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.ErrorContains(t, report.Results[0].Err, "nil map")
	assert.Equal(t, StatusCompleted, report.Results[1].Status)
}

func TestDispatchInvokesHooks(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher()
	require.NoError(t, d.Register("minute", []jobs.Job{rec.job("a", errors.New("x"))}))

	var got []Report
	d.OnReport(func(_ context.Context, r Report) { got = append(got, r) })

	d.Dispatch(context.Background(), "minute")
	d.Dispatch(context.Background(), "unknown")
	require.Len(t, got, 1)
	assert.True(t, got[0].Failed())
}

func TestRegisterRejectsConflicts(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher()
	require.NoError(t, d.Register("minute", []jobs.Job{rec.job("a", nil)}, "* * * * *"))
	assert.Error(t, d.Register("minute", []jobs.Job{rec.job("b", nil)}))
	assert.Error(t, d.Register("other", []jobs.Job{rec.job("b", nil)}, "* * * * *"))
	assert.Error(t, d.Register("empty", nil))
	assert.Equal(t, []string{"minute"}, d.Cadences())
	assert.Equal(t, []string{"a"}, d.Jobs("* * * * *"))
}

type sequencePrices struct {
	batches []map[string]decimal.Decimal
	call    int
}

func (s *sequencePrices) FetchSpotPrices(context.Context, []instrument.Instrument) (map[string]decimal.Decimal, error) {
	out := s.batches[s.call]
	s.call++
	return out, nil
}

func TestRepeatedMinuteIngestionKeepsHistory(t *testing.T) {
	set, err := instrument.NewSet([]instrument.Instrument{{Name: "ANTI", Address: antiAddr}, {Name: "PRO", Address: proAddr}})
	require.NoError(t, err)
	store := storage.NewMemoryStore(set.Addresses()...)
	prices := &sequencePrices{batches: []map[string]decimal.Decimal{
		{antiAddr: decimal.RequireFromString("0.001"), proAddr: decimal.RequireFromString("0.2")},
		{antiAddr: decimal.RequireFromString("0.002"), proAddr: decimal.RequireFromString("0.3")},
	}}

	job := jobs.NewPriceIngestion(jobs.Deps{
		Prices:      prices,
		Store:       store,
		Instruments: set,
		Source:      "raydium",
		Logger:      zerolog.Nop(),
	})
	d := newDispatcher()
	require.NoError(t, d.Register("minute", []jobs.Job{job}, "* * * * *"))

	for i := 0; i < 2; i++ {
		report := d.Dispatch(context.Background(), "* * * * *")
		require.False(t, report.Failed(), report.String())
	}

	history, err := store.QueryAll(context.Background(), storage.TablePrices, antiAddr)
	require.NoError(t, err)
	require.Len(t, history, 2)

	latest, err := store.QueryLatest(context.Background(), storage.TablePrices, antiAddr)
	require.NoError(t, err)
	assert.Equal(t, "0.002", latest.Value.String())
	assert.Equal(t, 4, store.Count(storage.TablePrices))
}
