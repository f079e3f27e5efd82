package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/pkg/event"
	"github.com/jwalitptl/notification-api/pkg/logger"
)

type WindowStats interface {
	ProcessingWindow(ctx context.Context, since time.Time) (*model.ProcessingWindowStats, error)
}

// MemoryUsage reports heap bytes in use and heap bytes obtained from the OS.
type MemoryUsage func() (used, total uint64)

func RuntimeMemory() (uint64, uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, ms.HeapSys
}

type PerformanceThresholds struct {
	Window         time.Duration
	Latency        time.Duration
	ErrorRate      float64
	MemoryHigh     float64
	MemoryCritical float64
}

func ThresholdsFromConfig(cfg config.DetectorsConfig) PerformanceThresholds {
	t := PerformanceThresholds{
		Window:         cfg.PerformanceWindow,
		Latency:        cfg.LatencyThreshold,
		ErrorRate:      cfg.ErrorRateThreshold,
		MemoryHigh:     cfg.MemoryHighPercent,
		MemoryCritical: cfg.MemoryCritPercent,
	}
	if t.Window <= 0 {
		t.Window = 10 * time.Minute
	}
	if t.Latency <= 0 {
		t.Latency = 120 * time.Second
	}
	if t.ErrorRate <= 0 {
		t.ErrorRate = 5
	}
	if t.MemoryHigh <= 0 {
		t.MemoryHigh = 85
	}
	if t.MemoryCritical <= 0 {
		t.MemoryCritical = 95
	}
	return t
}

// PerformanceDetector checks processing latency, failure rate and heap
// usage independently on each tick. Alerts are not de-duplicated.
type PerformanceDetector struct {
	stats      WindowStats
	directory  Directory
	publisher  event.Publisher
	thresholds PerformanceThresholds
	memory     MemoryUsage
	now        func() time.Time
	logger     *logger.Logger
}

func NewPerformanceDetector(stats WindowStats, directory Directory, publisher event.Publisher, t PerformanceThresholds, memory MemoryUsage, log *logger.Logger) *PerformanceDetector {
	if memory == nil {
		memory = RuntimeMemory
	}
	return &PerformanceDetector{
		stats:      stats,
		directory:  directory,
		publisher:  publisher,
		thresholds: t,
		memory:     memory,
		now:        time.Now,
		logger:     log.With("performance_detector"),
	}
}

func (d *PerformanceDetector) Name() string { return "performance" }

func (d *PerformanceDetector) Tick(ctx context.Context) error {
	admins := &adminLookup{directory: d.directory}

	var errs []error
	window, err := d.stats.ProcessingWindow(ctx, d.now().Add(-d.thresholds.Window))
	if err != nil {
		errs = append(errs, fmt.Errorf("processing window: %w", err))
	} else {
		if err := d.checkLatency(ctx, window, admins); err != nil {
			errs = append(errs, err)
		}
		if err := d.checkErrorRate(ctx, window, admins); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.checkMemory(ctx, admins); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *PerformanceDetector) checkLatency(ctx context.Context, w *model.ProcessingWindowStats, admins *adminLookup) error {
	if w.Timed == 0 {
		return nil
	}
	thresholdMs := float64(d.thresholds.Latency.Milliseconds())
	if w.AvgProcessingTimeMs <= thresholdMs {
		return nil
	}

	users, err := admins.get(ctx)
	if err != nil {
		return err
	}
	d.publisher.Publish(ctx, model.EventPerformanceDegradation, model.SystemAlertEvent{
		Severity: model.SeverityHigh,
		Message: fmt.Sprintf("Average processing time exceeded threshold: %ds (threshold: %ds)",
			int64(math.Round(w.AvgProcessingTimeMs/1000)), int64(d.thresholds.Latency.Seconds())),
		Details: model.JSONMap{
			"avgProcessingTime": math.Round(w.AvgProcessingTimeMs),
			"threshold":         thresholdMs,
			"sampleSize":        w.Timed,
		},
		AffectedUsers: users,
	})
	d.logger.Warn("performance degradation detected", "avg_processing_ms", w.AvgProcessingTimeMs)
	return nil
}

func (d *PerformanceDetector) checkErrorRate(ctx context.Context, w *model.ProcessingWindowStats, admins *adminLookup) error {
	total := w.Completed + w.Failed
	if total == 0 {
		return nil
	}
	rate := w.FailureRate()
	if rate <= d.thresholds.ErrorRate {
		return nil
	}

	users, err := admins.get(ctx)
	if err != nil {
		return err
	}
	d.publisher.Publish(ctx, model.EventPerformanceDegradation, model.SystemAlertEvent{
		Severity: model.SeverityCritical,
		Message:  fmt.Sprintf("Error rate exceeded threshold: %.2f%% (threshold: %g%%)", rate, d.thresholds.ErrorRate),
		Details: model.JSONMap{
			"errorRate": math.Round(rate*100) / 100,
			"threshold": d.thresholds.ErrorRate,
			"failed":    w.Failed,
			"total":     total,
		},
		AffectedUsers: users,
	})
	d.logger.Warn("high error rate detected", "error_rate", rate)
	return nil
}

func (d *PerformanceDetector) checkMemory(ctx context.Context, admins *adminLookup) error {
	used, total := d.memory()
	if total == 0 {
		return nil
	}
	pct := float64(used) / float64(total) * 100
	if pct <= d.thresholds.MemoryHigh {
		return nil
	}

	severity := model.SeverityHigh
	if pct > d.thresholds.MemoryCritical {
		severity = model.SeverityCritical
	}
	users, err := admins.get(ctx)
	if err != nil {
		return err
	}
	const mb = 1024 * 1024
	d.publisher.Publish(ctx, model.EventHealthMetricsAlert, model.SystemAlertEvent{
		Severity: severity,
		Message:  fmt.Sprintf("High memory usage detected: %.2f%%", pct),
		Details: model.JSONMap{
			"memoryUsage": map[string]interface{}{
				"used":       math.Round(float64(used) / mb),
				"total":      math.Round(float64(total) / mb),
				"percentage": fmt.Sprintf("%.2f", pct),
			},
			"threshold": fmt.Sprintf("%.0f", d.thresholds.MemoryHigh),
			"timestamp": d.now().UTC().Format(time.RFC3339),
		},
		AffectedUsers: users,
	})
	d.logger.Warn("high memory usage detected", "percentage", pct)
	return nil
}

// adminLookup fetches admin ids at most once per tick.
type adminLookup struct {
	directory Directory
	ids       []uuid.UUID
	done      bool
}

func (a *adminLookup) get(ctx context.Context) ([]uuid.UUID, error) {
	if a.done {
		return a.ids, nil
	}
	ids, err := a.directory.AdminIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up admins: %w", err)
	}
	a.ids, a.done = ids, true
	return ids, nil
}
