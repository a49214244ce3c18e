// Package dispatcher maps trigger cadences to ordered job lists and runs them
// with per-job failure isolation.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"token-indexer/internal/jobs"
	"token-indexer/internal/logging"
	"token-indexer/internal/observability"
)

// Status is the terminal state of one job within an invocation.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// JobResult records the outcome of one job.
type JobResult struct {
	Job      string
	Status   Status
	Err      error
	Duration time.Duration
}

// Report summarises one invocation. Dispatch always returns one, whatever the jobs did.
type Report struct {
	InvocationID string
	Trigger      string
	Cadence      string
	Recognized   bool
	// Locked is set when another process held the cadence lock and nothing ran.
	Locked     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []JobResult
}

// Failed reports whether any job failed or was skipped.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status != StatusCompleted {
			return true
		}
	}
	return false
}

// Failures returns the non-completed results.
func (r Report) Failures() []JobResult {
	var out []JobResult
	for _, res := range r.Results {
		if res.Status != StatusCompleted {
			out = append(out, res)
		}
	}
	return out
}

func (r Report) outcome() string {
	switch {
	case !r.Recognized:
		return "ignored"
	case r.Locked:
		return "locked"
	case r.Failed():
		return "partial"
	default:
		return "completed"
	}
}

// String renders a one-line summary per job.
func (r Report) String() string {
	if !r.Recognized {
		return fmt.Sprintf("trigger %q not recognised; nothing ran\n", r.Trigger)
	}
	if r.Locked {
		return fmt.Sprintf("cadence %s skipped: lock held by another process; nothing ran\n", r.Cadence)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invocation %s cadence=%s took=%s\n", r.InvocationID, r.Cadence, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, res := range r.Results {
		fmt.Fprintf(&b, "  %-28s %-9s %s", res.Job, res.Status, res.Duration.Round(time.Millisecond))
		if res.Err != nil {
			fmt.Fprintf(&b, "  %v", res.Err)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// LockedReport describes an invocation skipped because the cadence lock was held.
func LockedReport(trigger, cadence string, at time.Time) Report {
	return Report{
		InvocationID: uuid.NewString(),
		Trigger:      trigger,
		Cadence:      cadence,
		Recognized:   true,
		Locked:       true,
		StartedAt:    at,
		FinishedAt:   at,
	}
}

// ReportHook receives every finished report of a recognised cadence.
type ReportHook func(ctx context.Context, report Report)

// Dispatcher owns the fixed cadence → job list mapping.
type Dispatcher struct {
	cadences map[string][]jobs.Job
	aliases  map[string]string
	logger   zerolog.Logger
	metrics  *observability.Metrics
	hooks    []ReportHook
	now      func() time.Time
}

// New constructs an empty Dispatcher.
func New(logger zerolog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		cadences: make(map[string][]jobs.Job),
		aliases:  make(map[string]string),
		logger:   logging.Component(logger, "dispatcher"),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register binds a cadence, and optional aliases such as its cron expression, to an
// ordered job list. Jobs run in the given order.
func (d *Dispatcher) Register(cadence string, list []jobs.Job, aliases ...string) error {
	cadence = strings.TrimSpace(cadence)
	if cadence == "" {
		return fmt.Errorf("dispatcher: empty cadence name")
	}
	if _, ok := d.cadences[cadence]; ok {
		return fmt.Errorf("dispatcher: cadence %q already registered", cadence)
	}
	if len(list) == 0 {
		return fmt.Errorf("dispatcher: cadence %q has no jobs", cadence)
	}
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		if other, ok := d.aliases[alias]; ok {
			return fmt.Errorf("dispatcher: alias %q already bound to %q", alias, other)
		}
		d.aliases[alias] = cadence
	}
	d.cadences[cadence] = append([]jobs.Job(nil), list...)
	return nil
}

// OnReport adds a hook invoked after each recognised invocation.
func (d *Dispatcher) OnReport(hook ReportHook) {
	d.hooks = append(d.hooks, hook)
}

// Cadences lists registered cadence names.
func (d *Dispatcher) Cadences() []string {
	names := make([]string, 0, len(d.cadences))
	for name := range d.cadences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Jobs lists the job names bound to a cadence.
func (d *Dispatcher) Jobs(cadence string) []string {
	list := d.cadences[d.Resolve(cadence)]
	names := make([]string, len(list))
	for i, j := range list {
		names[i] = j.Name()
	}
	return names
}

// Resolve maps a cadence name or alias to the cadence name, or "" if unknown.
func (d *Dispatcher) Resolve(trigger string) string {
	trigger = strings.TrimSpace(trigger)
	if _, ok := d.cadences[trigger]; ok {
		return trigger
	}
	return d.aliases[trigger]
}

// Dispatch runs every job of the cadence sequentially and never returns an error:
// each job failure is captured in the report. Unknown triggers run nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger string) Report {
	report := Report{
		InvocationID: uuid.NewString(),
		Trigger:      trigger,
		StartedAt:    d.now(),
	}

	cadence := d.Resolve(trigger)
	if cadence == "" {
		report.FinishedAt = d.now()
		d.logger.Debug().Str("trigger", trigger).Msg("ignoring unrecognised trigger")
		d.metrics.ObserveInvocation("unknown", report.outcome())
		return report
	}
	report.Recognized = true
	report.Cadence = cadence

	logger := d.logger.With().Str("cadence", cadence).Str("invocation_id", report.InvocationID).Logger()
	logger.Info().Str("trigger", trigger).Msg("invocation received")

	failed := make(map[string]bool)
	for _, job := range d.cadences[cadence] {
		var res JobResult
		if blocker := blockedBy(job, failed); blocker != "" {
			res = JobResult{
				Job:    job.Name(),
				Status: StatusSkipped,
				Err:    fmt.Errorf("dependency %s failed in this invocation", blocker),
			}
		} else {
			res = d.runJob(ctx, job)
		}

		if res.Status != StatusCompleted {
			failed[res.Job] = true
		}
		d.metrics.ObserveJob(cadence, res.Job, string(res.Status), res.Duration)
		logResult(logger, res)
		report.Results = append(report.Results, res)
	}

	report.FinishedAt = d.now()
	d.metrics.ObserveInvocation(cadence, report.outcome())
	logger.Info().Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Int("failed", len(report.Failures())).Msg("invocation completed")

	for _, hook := range d.hooks {
		hook(ctx, report)
	}
	return report
}

func (d *Dispatcher) runJob(ctx context.Context, job jobs.Job) (res JobResult) {
	res.Job = job.Name()
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("panic: %v", r)
			d.logger.Error().Str("job", res.Job).Bytes("stack", debug.Stack()).Msg("job panicked")
		}
	}()

	if err := job.Run(ctx); err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Status = StatusCompleted
	return res
}

func blockedBy(job jobs.Job, failed map[string]bool) string {
	dep, ok := job.(jobs.Dependent)
	if !ok {
		return ""
	}
	for _, name := range dep.DependsOn() {
		if failed[name] {
			return name
		}
	}
	return ""
}

func logResult(logger zerolog.Logger, res JobResult) {
	switch res.Status {
	case StatusCompleted:
		logger.Info().Str("job", res.Job).Dur("duration", res.Duration).Msg("job completed")
	case StatusSkipped:
		logger.Warn().Str("job", res.Job).Err(res.Err).Msg("job skipped")
	default:
		logger.Error().Str("job", res.Job).Dur("duration", res.Duration).Err(res.Err).Msg("job failed")
	}
}
