package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/pkg/event"
	"github.com/jwalitptl/notification-api/pkg/logger"
)

type MonthlyStats interface {
	MonthlySummary(ctx context.Context, from, to time.Time) (*model.MonthlyReport, error)
}

// MonthlyReporter summarises the previous calendar month (UTC) for all admins.
// Run it with the Monthly schedule.
type MonthlyReporter struct {
	stats     MonthlyStats
	directory Directory
	publisher event.Publisher
	now       func() time.Time
	logger    *logger.Logger
}

func NewMonthlyReporter(stats MonthlyStats, directory Directory, publisher event.Publisher, log *logger.Logger) *MonthlyReporter {
	return &MonthlyReporter{
		stats:     stats,
		directory: directory,
		publisher: publisher,
		now:       time.Now,
		logger:    log.With("monthly_reporter"),
	}
}

func (r *MonthlyReporter) Name() string { return "monthly_report" }

// PreviousMonth returns [first of last month, first of this month) in UTC.
func PreviousMonth(now time.Time) (time.Time, time.Time) {
	y, m, _ := now.UTC().Date()
	to := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return to.AddDate(0, -1, 0), to
}

func (r *MonthlyReporter) Tick(ctx context.Context) error {
	admins, err := r.directory.AdminIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to look up admins: %w", err)
	}
	if len(admins) == 0 {
		r.logger.Warn("no admin users found for monthly report")
		return nil
	}

	from, to := PreviousMonth(r.now())
	report, err := r.stats.MonthlySummary(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to collect monthly data: %w", err)
	}

	r.publisher.Publish(ctx, model.EventMonthlyAnalyticsReport, model.MonthlyReportEvent{
		AdminUsers: admins,
		Report:     *report,
	})
	r.logger.Info("monthly analytics report published", "month", report.Month, "admins", len(admins))
	return nil
}
