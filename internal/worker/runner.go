package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/metrics"
)

// Detector is one unit of scheduled work. A Detector owns its state and is
// never ticked concurrently with itself.
type Detector interface {
	Name() string
	Tick(ctx context.Context) error
}

// Schedule returns the next fire time after now.
type Schedule func(now time.Time) time.Time

func Every(d time.Duration) Schedule {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// Monthly fires at 00:00 UTC on the first day of each month.
func Monthly(now time.Time) time.Time {
	return StartOfNextMonth(now)
}

func StartOfNextMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

type Runner struct {
	detector Detector
	schedule Schedule
	running  atomic.Bool
	wg       sync.WaitGroup
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewRunner(d Detector, schedule Schedule, log *logger.Logger, m *metrics.Metrics) *Runner {
	return &Runner{
		detector: d,
		schedule: schedule,
		logger:   log.With("detector_" + d.Name()),
		metrics:  m,
	}
}

// Start fires ticks on schedule until ctx is done, then waits for an
// in-flight tick to return.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("starting detector")
	defer r.wg.Wait()

	for {
		now := time.Now()
		timer := time.NewTimer(r.schedule(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("stopping detector")
			return
		case <-timer.C:
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.RunOnce(ctx)
			}()
		}
	}
}

// RunOnce ticks the detector unless a previous tick is still running, in
// which case it returns false. Errors and panics are logged and counted.
func (r *Runner) RunOnce(ctx context.Context) bool {
	name := r.detector.Name()
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("previous tick still running, skipping")
		r.metrics.DetectorTicks.WithLabelValues(name, "skipped").Inc()
		return false
	}
	defer r.running.Store(false)

	timer := prometheus.NewTimer(r.metrics.DetectorLatency.WithLabelValues(name))
	defer timer.ObserveDuration()

	if err := r.tick(ctx); err != nil {
		r.logger.Error(err, "detector tick failed")
		r.metrics.DetectorTicks.WithLabelValues(name, "error").Inc()
		return true
	}
	r.metrics.DetectorTicks.WithLabelValues(name, "ok").Inc()
	return true
}

func (r *Runner) tick(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in detector %s: %v", r.detector.Name(), rec)
		}
	}()
	return r.detector.Tick(ctx)
}
