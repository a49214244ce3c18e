// Package service drives cadence schedulers into the dispatcher and routes
// failed invocation reports to the notifier.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"token-indexer/internal/alerting"
	"token-indexer/internal/dispatcher"
	"token-indexer/internal/logging"
	"token-indexer/internal/scheduler"
	"token-indexer/internal/storage"
)

// ErrUnknownCadence is returned when no scheduler is bound to a cadence.
var ErrUnknownCadence = errors.New("service: unknown cadence")

// Options configure a Service.
type Options struct {
	// AdvisoryLockKey enables cross-process exclusion when non-zero. Each cadence
	// locks AdvisoryLockKey plus its position in the schedule list.
	AdvisoryLockKey int64
	Environment     string
}

// Service orchestrates cadence triggers, locking, and failure alerting.
type Service struct {
	dispatcher *dispatcher.Dispatcher
	schedulers map[string]*scheduler.Scheduler
	order      []string
	lockKeys   map[string]int64
	locker     storage.AdvisoryLocker
	notifier   alerting.Notifier
	env        string
	logger     zerolog.Logger
}

// New constructs the service. locker and notifier may be nil.
func New(opts Options, d *dispatcher.Dispatcher, schedulers []*scheduler.Scheduler, locker storage.AdvisoryLocker, notifier alerting.Notifier, logger zerolog.Logger) (*Service, error) {
	if d == nil {
		return nil, fmt.Errorf("service: dispatcher not configured")
	}
	s := &Service{
		dispatcher: d,
		schedulers: make(map[string]*scheduler.Scheduler, len(schedulers)),
		lockKeys:   make(map[string]int64, len(schedulers)),
		locker:     locker,
		notifier:   notifier,
		env:        opts.Environment,
		logger:     logging.Component(logger, "service"),
	}
	for i, sched := range schedulers {
		name := sched.Name()
		if _, dup := s.schedulers[name]; dup {
			return nil, fmt.Errorf("service: duplicate scheduler for cadence %q", name)
		}
		s.schedulers[name] = sched
		s.order = append(s.order, name)
		if opts.AdvisoryLockKey != 0 {
			s.lockKeys[name] = opts.AdvisoryLockKey + int64(i)
		}
	}
	if notifier != nil {
		d.OnReport(s.notifyFailures)
	}
	return s, nil
}

// Cadences lists scheduled cadences in registration order.
func (s *Service) Cadences() []string {
	return append([]string(nil), s.order...)
}

// RunCadence blocks running the named cadence's scheduler until ctx is cancelled.
func (s *Service) RunCadence(ctx context.Context, cadence string) error {
	sched, ok := s.schedulers[cadence]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCadence, cadence)
	}
	s.logger.Info().Str("cadence", cadence).Dur("interval", sched.Interval()).Msg("cadence scheduler started")
	return sched.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		_, err := s.Invoke(ctx, cadence)
		return err
	})
}

// Invoke runs one invocation of the trigger, holding the cadence's advisory lock
// when configured. A held lock skips the invocation and returns a report with
// Locked set.
func (s *Service) Invoke(ctx context.Context, trigger string) (dispatcher.Report, error) {
	cadence := s.dispatcher.Resolve(trigger)
	key := s.lockKeys[cadence]
	if key != 0 && s.locker != nil {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
		if err != nil {
			return dispatcher.Report{Trigger: trigger}, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			s.logger.Info().Str("cadence", cadence).Int64("lock_key", key).Msg("skip invocation because advisory lock held elsewhere")
			return dispatcher.LockedReport(trigger, cadence, time.Now().UTC()), nil
		}
		defer unlock()
	}
	return s.dispatcher.Dispatch(ctx, trigger), nil
}

func (s *Service) notifyFailures(ctx context.Context, report dispatcher.Report) {
	if !report.Failed() {
		return
	}
	note := alerting.Notification{
		InvocationID: report.InvocationID,
		Cadence:      report.Cadence,
		StartedAt:    report.StartedAt,
		Duration:     report.FinishedAt.Sub(report.StartedAt),
		Environment:  s.env,
	}
	for _, res := range report.Failures() {
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		note.Failures = append(note.Failures, alerting.FailedJob{Job: res.Job, Status: string(res.Status), Error: msg})
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("invocation_id", report.InvocationID).Msg("failed to dispatch failure notification")
	}
}
