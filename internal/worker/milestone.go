package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/pkg/event"
	"github.com/jwalitptl/notification-api/pkg/logger"
)

var (
	UserMilestones       = []int64{100, 200, 300, 500, 1000, 2000, 5000}
	ProcessingMilestones = []int64{1000, 5000, 10000, 25000, 50000, 100000}
)

type Directory interface {
	AdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

type Counters interface {
	CountUsers(ctx context.Context) (int64, error)
	CountCompletedCandidates(ctx context.Context) (int64, error)
}

type milestoneTrack struct {
	kind       model.MilestoneKind
	event      string
	milestones []int64
	count      func(ctx context.Context) (int64, error)
	last       int64
}

// reached is the smallest milestone crossed since the last observation.
func (t *milestoneTrack) reached(current int64) (int64, bool) {
	for _, m := range t.milestones {
		if current >= m && t.last < m {
			return m, true
		}
	}
	return 0, false
}

// MilestoneDetector alerts admins when user or completed-candidate counts
// cross a milestone. Only the smallest crossed milestone is reported per tick.
type MilestoneDetector struct {
	mu        sync.Mutex
	tracks    []*milestoneTrack
	directory Directory
	publisher event.Publisher
	logger    *logger.Logger
}

func NewMilestoneDetector(counters Counters, directory Directory, publisher event.Publisher, log *logger.Logger) *MilestoneDetector {
	return &MilestoneDetector{
		tracks: []*milestoneTrack{
			{
				kind:       model.MilestoneUserCount,
				event:      model.EventUserMilestoneReached,
				milestones: UserMilestones,
				count:      counters.CountUsers,
			},
			{
				kind:       model.MilestoneProcessingCount,
				event:      model.EventProcessingMilestoneReached,
				milestones: ProcessingMilestones,
				count:      counters.CountCompletedCandidates,
			},
		},
		directory: directory,
		publisher: publisher,
		logger:    log.With("milestone_detector"),
	}
}

func (d *MilestoneDetector) Name() string { return "milestone" }

func (d *MilestoneDetector) Tick(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, t := range d.tracks {
		if err := d.check(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s milestone: %w", t.kind, err))
		}
	}
	return errors.Join(errs...)
}

// check leaves t.last untouched on any error so the next tick retries.
func (d *MilestoneDetector) check(ctx context.Context, t *milestoneTrack) error {
	current, err := t.count(ctx)
	if err != nil {
		return err
	}

	if m, ok := t.reached(current); ok {
		admins, err := d.directory.AdminIDs(ctx)
		if err != nil {
			return err
		}
		d.publisher.Publish(ctx, t.event, model.MilestoneEvent{
			Kind:         t.kind,
			Milestone:    m,
			CurrentValue: current,
			AdminUsers:   admins,
		})
		d.logger.Info("milestone reached", "kind", string(t.kind), "milestone", m, "current", current)
	}

	t.last = current
	return nil
}
