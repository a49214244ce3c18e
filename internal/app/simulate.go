package app

import (
	"context"
	"errors"
	"time"

	"token-indexer/internal/dispatcher"
	"token-indexer/internal/jobs"
	"token-indexer/internal/scheduler"
	"token-indexer/internal/service"
)

const simulatedCadence = "simulated"

// SimulateFailure pushes a synthetic failed invocation through the alerting path so
// the notifier configuration can be checked without waiting for a real failure.
func (a *App) SimulateFailure(ctx context.Context) (dispatcher.Report, error) {
	if !a.Config.Alerting.Enabled {
		return dispatcher.Report{}, errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return dispatcher.Report{}, errors.New("no alerting channel configured")
	}

	d := dispatcher.New(a.Logger, nil)
	failing := jobs.Func{
		JobName: jobs.IngestPricesName,
		Fn: func(context.Context) error {
			return errors.New("simulated failure")
		},
	}
	if err := d.Register(simulatedCadence, []jobs.Job{failing}); err != nil {
		return dispatcher.Report{}, err
	}

	sched, err := scheduler.New(scheduler.Options{Name: simulatedCadence, Interval: time.Minute}, a.Logger)
	if err != nil {
		return dispatcher.Report{}, err
	}

	svc, err := service.New(service.Options{Environment: a.Config.App.Environment}, d, []*scheduler.Scheduler{sched}, nil, notifier, a.Logger)
	if err != nil {
		return dispatcher.Report{}, err
	}
	return svc.Invoke(ctx, simulatedCadence)
}
