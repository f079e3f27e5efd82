package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/pkg/event"
	"github.com/jwalitptl/notification-api/pkg/logger"
)

// Creator is the part of the store event handlers need.
type Creator interface {
	Create(ctx context.Context, req *model.CreateNotificationRequest, role model.Role) (*model.Notification, error)
}

// Directory enumerates admin recipients for system-wide alerts.
type Directory interface {
	AdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Subscriber is the registration side of the event bus.
type Subscriber interface {
	Subscribe(name string, h event.Handler) error
}

// EventHandlers turns domain events into notifications. Failures are returned
// to the bus, which logs and counts them; nothing is retried.
type EventHandlers struct {
	store     Creator
	directory Directory
	logger    *logger.Logger
}

func NewEventHandlers(store Creator, directory Directory, log *logger.Logger) *EventHandlers {
	return &EventHandlers{
		store:     store,
		directory: directory,
		logger:    log.With("notification_events"),
	}
}

// Register subscribes a handler for every mapped event name.
func (h *EventHandlers) Register(bus Subscriber) error {
	routes := map[string]event.Handler{
		model.EventCandidateApplicationNew:     h.onNewApplication,
		model.EventCandidateStatusChanged:      h.onStatusChanged,
		model.EventCandidateAIAnalysisComplete: h.onAIAnalysisComplete,
		model.EventCandidateProcessingFailed:   h.onProcessingFailed,

		model.EventCandidateShortlisted:          h.onShortlisted,
		model.EventCandidateRemovedFromShortlist: h.onRemovedFromShortlist,
		model.EventCandidateDeleted:              h.onDeleted,
		model.EventCandidateBiasDetected:         h.onBiasDetected,
		model.EventCandidateDuplicateFound:       h.onDuplicateFound,
		model.EventBulkProcessingComplete:        h.onBulkProcessingComplete,

		model.EventSystemError:            h.systemAlert(model.NotificationSystemError),
		model.EventSecurityAlert:          h.systemAlert(model.NotificationSecurityAlert),
		model.EventHealthMetricsAlert:     h.systemAlert(model.NotificationHealthMetricsAlert),
		model.EventPerformanceDegradation: h.systemAlert(model.NotificationPerformanceDegradation),

		model.EventUserMilestoneReached:       h.onMilestone,
		model.EventProcessingMilestoneReached: h.onMilestone,
		model.EventMonthlyAnalyticsReport:     h.onMonthlyReport,
	}
	for name, handler := range routes {
		if err := bus.Subscribe(name, handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", name, err)
		}
	}
	return nil
}

func (h *EventHandlers) onNewApplication(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateProcessingEvent](evt)
	if err != nil {
		return err
	}
	role := e.JobRole
	if role == "" {
		role = "a position"
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationNewApplication,
		"New Application Received",
		fmt.Sprintf("New candidate %q has applied for %s", e.CandidateName, role),
		model.JSONMap{"candidateId": e.CandidateID, "candidateName": e.CandidateName, "jobRole": e.JobRole})
}

func (h *EventHandlers) onStatusChanged(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateProcessingEvent](evt)
	if err != nil {
		return err
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationStatusChange,
		"Candidate Status Updated",
		fmt.Sprintf("Candidate %q %s", e.CandidateName, statusText(e.Status)),
		model.JSONMap{
			"candidateId":    e.CandidateID,
			"candidateName":  e.CandidateName,
			"status":         e.Status,
			"processingTime": e.ProcessingTime,
		})
}

func statusText(s model.ProcessingStatus) string {
	switch s {
	case model.ProcessingPending:
		return "is pending processing"
	case model.ProcessingProcessing:
		return "is being processed"
	case model.ProcessingCompleted:
		return "has been successfully processed"
	case model.ProcessingFailed:
		return "processing has failed"
	default:
		return "status has changed"
	}
}

func (h *EventHandlers) onAIAnalysisComplete(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateProcessingEvent](evt)
	if err != nil {
		return err
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationAIAnalysisComplete,
		"AI Analysis Complete",
		fmt.Sprintf("AI analysis completed for %q in %dms", e.CandidateName, e.ProcessingTime),
		model.JSONMap{"candidateId": e.CandidateID, "candidateName": e.CandidateName, "processingTime": e.ProcessingTime})
}

func (h *EventHandlers) onProcessingFailed(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateProcessingEvent](evt)
	if err != nil {
		return err
	}
	reason := e.Error
	if reason == "" {
		reason = "Please try again."
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationProcessingFailed,
		"Processing Failed",
		fmt.Sprintf("Processing failed for candidate %q. %s", e.CandidateName, reason),
		model.JSONMap{"candidateId": e.CandidateID, "candidateName": e.CandidateName, "error": e.Error})
}

func (h *EventHandlers) onShortlisted(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateManagementEvent](evt)
	if err != nil {
		return err
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationCandidateShortlisted,
		"Candidate Shortlisted",
		fmt.Sprintf("Candidate %q has been added to your shortlist", e.CandidateName),
		managementMetadata(e, "details"))
}

func (h *EventHandlers) onRemovedFromShortlist(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateManagementEvent](evt)
	if err != nil {
		return err
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationCandidateShortlisted,
		"Candidate Removed from Shortlist",
		fmt.Sprintf("Candidate %q has been removed from your shortlist", e.CandidateName),
		managementMetadata(e, "details"))
}

func (h *EventHandlers) onDeleted(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateManagementEvent](evt)
	if err != nil {
		return err
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationStatusChange,
		"Candidate Deleted",
		fmt.Sprintf("Candidate %q has been permanently deleted from the system", e.CandidateName),
		managementMetadata(e, "details"))
}

func (h *EventHandlers) onBiasDetected(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateManagementEvent](evt)
	if err != nil {
		return err
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationBiasAlert,
		"Bias Detection Alert",
		fmt.Sprintf("Potential bias detected in evaluation of %q. Please review.", e.CandidateName),
		managementMetadata(e, "biasDetails"))
}

func (h *EventHandlers) onDuplicateFound(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.CandidateManagementEvent](evt)
	if err != nil {
		return err
	}
	return h.forRecruiter(ctx, e.UserID, model.NotificationDuplicateCandidate,
		"Duplicate Candidate Detected",
		fmt.Sprintf("Duplicate candidate detected: %q may already exist in the system", e.CandidateName),
		managementMetadata(e, "duplicateDetails"))
}

func managementMetadata(e model.CandidateManagementEvent, detailsKey string) model.JSONMap {
	m := model.JSONMap{
		"candidateId":   e.CandidateID,
		"candidateName": e.CandidateName,
		"action":        e.Action,
	}
	if len(e.Details) > 0 {
		m[detailsKey] = e.Details
	}
	return m
}

func (h *EventHandlers) onBulkProcessingComplete(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.BulkProcessingEvent](evt)
	if err != nil {
		return err
	}
	rate := e.SuccessRate()
	return h.forRecruiter(ctx, e.UserID, model.NotificationBulkProcessingComplete,
		"Bulk Processing Complete",
		fmt.Sprintf("Processed %d candidates: %d successful, %d failed (%s%% success rate)",
			e.TotalCandidates, e.SuccessCount, e.FailedCount, strconv.FormatFloat(rate, 'f', -1, 64)),
		model.JSONMap{
			"totalCandidates":  e.TotalCandidates,
			"successCount":     e.SuccessCount,
			"failedCount":      e.FailedCount,
			"processingTime":   e.ProcessingTime,
			"successRate":      rate,
			"failedCandidates": e.FailedCandidates,
		})
}

func (h *EventHandlers) systemAlert(typ model.NotificationType) event.Handler {
	return func(ctx context.Context, evt event.Event) error {
		e, err := payloadAs[model.SystemAlertEvent](evt)
		if err != nil {
			return err
		}

		recipients := e.AffectedUsers
		if len(recipients) == 0 {
			if recipients, err = h.directory.AdminIDs(ctx); err != nil {
				return fmt.Errorf("looking up admins for %s: %w", evt.Name, err)
			}
		}

		metadata := model.JSONMap{"severity": e.Severity}
		if len(e.Details) > 0 {
			metadata["details"] = e.Details
		}
		return h.forAdmins(ctx, recipients, typ, systemAlertTitle(typ, e.Severity), e.Message, metadata)
	}
}

func systemAlertTitle(typ model.NotificationType, sev model.Severity) string {
	switch typ {
	case model.NotificationSystemError:
		return "System Error - " + strings.ToUpper(string(sev))
	case model.NotificationSecurityAlert:
		return "Security Alert - " + strings.ToUpper(string(sev))
	case model.NotificationHealthMetricsAlert:
		return "Health Metrics Alert"
	default:
		return "Performance Degradation Detected"
	}
}

func (h *EventHandlers) onMilestone(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.MilestoneEvent](evt)
	if err != nil {
		return err
	}

	typ, title := model.NotificationUserMilestoneReached, "User Milestone Reached!"
	content := fmt.Sprintf("Congratulations! The platform has reached %d users (current: %d)", e.Milestone, e.CurrentValue)
	if e.Kind == model.MilestoneProcessingCount {
		typ, title = model.NotificationProcessingMilestone, "Processing Milestone Reached!"
		content = fmt.Sprintf("The platform has processed %d candidates (current: %d)", e.Milestone, e.CurrentValue)
	}

	return h.forAdmins(ctx, e.AdminUsers, typ, title, content, model.JSONMap{
		"milestone":    e.Milestone,
		"currentValue": e.CurrentValue,
		"type":         e.Kind,
	})
}

func (h *EventHandlers) onMonthlyReport(ctx context.Context, evt event.Event) error {
	e, err := payloadAs[model.MonthlyReportEvent](evt)
	if err != nil {
		return err
	}
	return h.forAdmins(ctx, e.AdminUsers, model.NotificationMonthlyAnalyticsReport,
		"Monthly Analytics Report Available",
		"Your monthly analytics report is ready. View insights on user activity, processing metrics, and system performance.",
		model.JSONMap{"reportData": e.Report, "reportMonth": e.Report.Month})
}

func (h *EventHandlers) forRecruiter(ctx context.Context, userID uuid.UUID, typ model.NotificationType, title, content string, metadata model.JSONMap) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%s event without a user id", typ)
	}
	_, err := h.store.Create(ctx, &model.CreateNotificationRequest{
		UserID:   userID,
		Type:     typ,
		Title:    clip(title, model.MaxTitleLength),
		Content:  clip(content, model.MaxContentLength),
		Metadata: metadata,
	}, model.RoleRecruiter)
	return err
}

// forAdmins creates one notification per recipient and keeps going past
// individual failures.
func (h *EventHandlers) forAdmins(ctx context.Context, recipients []uuid.UUID, typ model.NotificationType, title, content string, metadata model.JSONMap) error {
	if len(recipients) == 0 {
		h.logger.Debug("no recipients for admin notification", "type", typ)
		return nil
	}

	var errs []error
	for _, id := range recipients {
		_, err := h.store.Create(ctx, &model.CreateNotificationRequest{
			UserID:   id,
			Type:     typ,
			Title:    clip(title, model.MaxTitleLength),
			Content:  clip(content, model.MaxContentLength),
			Metadata: metadata,
		}, model.RoleAdmin)
		if err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// payloadAs accepts the payload by value or by pointer.
func payloadAs[T any](evt event.Event) (T, error) {
	switch p := evt.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("event %s: unexpected payload %T", evt.Name, evt.Payload)
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
