package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	NotificationNewApplication         NotificationType = "NEW_APPLICATION"
	NotificationStatusChange           NotificationType = "STATUS_CHANGE"
	NotificationAIAnalysisComplete     NotificationType = "AI_ANALYSIS_COMPLETE"
	NotificationProcessingFailed       NotificationType = "PROCESSING_FAILED"
	NotificationCandidateShortlisted   NotificationType = "CANDIDATE_SHORTLISTED"
	NotificationBiasAlert              NotificationType = "BIAS_ALERT"
	NotificationDuplicateCandidate     NotificationType = "DUPLICATE_CANDIDATE"
	NotificationBulkProcessingComplete NotificationType = "BULK_PROCESSING_COMPLETE"

	NotificationSystemError            NotificationType = "SYSTEM_ERROR"
	NotificationSecurityAlert          NotificationType = "SECURITY_ALERT"
	NotificationHealthMetricsAlert     NotificationType = "HEALTH_METRICS_ALERT"
	NotificationPerformanceDegradation NotificationType = "PERFORMANCE_DEGRADATION"
	NotificationUserMilestoneReached   NotificationType = "USER_MILESTONE_REACHED"
	NotificationProcessingMilestone    NotificationType = "PROCESSING_MILESTONE"
	NotificationMonthlyAnalyticsReport NotificationType = "MONTHLY_ANALYTICS_REPORT"
)

// NotificationTypes lists every type in declaration order.
var NotificationTypes = []NotificationType{
	NotificationNewApplication,
	NotificationStatusChange,
	NotificationAIAnalysisComplete,
	NotificationProcessingFailed,
	NotificationCandidateShortlisted,
	NotificationBiasAlert,
	NotificationDuplicateCandidate,
	NotificationBulkProcessingComplete,
	NotificationSystemError,
	NotificationSecurityAlert,
	NotificationHealthMetricsAlert,
	NotificationPerformanceDegradation,
	NotificationUserMilestoneReached,
	NotificationProcessingMilestone,
	NotificationMonthlyAnalyticsReport,
}

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationNewApplication, NotificationStatusChange, NotificationAIAnalysisComplete,
		NotificationProcessingFailed, NotificationCandidateShortlisted, NotificationBiasAlert,
		NotificationDuplicateCandidate, NotificationBulkProcessingComplete,
		NotificationSystemError, NotificationSecurityAlert, NotificationHealthMetricsAlert,
		NotificationPerformanceDegradation, NotificationUserMilestoneReached,
		NotificationProcessingMilestone, NotificationMonthlyAnalyticsReport:
		return true
	}
	return false
}

// AdminOnly reports whether only administrators may create the type.
func (t NotificationType) AdminOnly() bool {
	switch t {
	case NotificationSystemError, NotificationSecurityAlert, NotificationHealthMetricsAlert,
		NotificationPerformanceDegradation, NotificationUserMilestoneReached,
		NotificationProcessingMilestone, NotificationMonthlyAnalyticsReport:
		return true
	}
	return false
}

// Priority drives which delivery channels are used.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (t NotificationType) Priority() Priority {
	switch t {
	case NotificationSystemError, NotificationSecurityAlert:
		return PriorityCritical
	case NotificationPerformanceDegradation, NotificationBiasAlert,
		NotificationNewApplication, NotificationCandidateShortlisted:
		return PriorityHigh
	case NotificationAIAnalysisComplete, NotificationStatusChange,
		NotificationBulkProcessingComplete, NotificationHealthMetricsAlert:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Role of the principal creating a notification.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleRecruiter Role = "RECRUITER"
)

// Valid reports whether r may use the notification API at all.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleRecruiter
}

// CanCreate is the static role/type permission table. Roles other than
// ADMIN and RECRUITER may create nothing; unknown types are never allowed.
func (r Role) CanCreate(t NotificationType) bool {
	if !t.Valid() {
		return false
	}
	switch r {
	case RoleAdmin:
		return true
	case RoleRecruiter:
		return !t.AdminOnly()
	default:
		return false
	}
}

const (
	NotificationRetention = 90 * 24 * time.Hour
	MaxTitleLength        = 200
	MaxContentLength      = 1000
)

// Notification is owned by UserID and visible only to that user.
// IsRead is the only mutable field.
type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    uuid.UUID        `json:"userId" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Content   string           `json:"content" db:"content"`
	Metadata  JSONMap          `json:"metadata" db:"metadata"`
	IsRead    bool             `json:"isRead" db:"is_read"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time        `json:"expiresAt" db:"expires_at"`
}

func (n *Notification) Priority() Priority {
	return n.Type.Priority()
}

// CreateNotificationRequest is validated before authorization.
type CreateNotificationRequest struct {
	UserID   uuid.UUID        `json:"userId" validate:"required"`
	Type     NotificationType `json:"type" validate:"required,enum"`
	Title    string           `json:"title" validate:"required,max=200"`
	Content  string           `json:"content" validate:"required,max=1000"`
	Metadata JSONMap          `json:"metadata,omitempty"`
}

// NotificationFilter narrows List. Zero values mean "any".
type NotificationFilter struct {
	UserID    *uuid.UUID
	Type      *NotificationType
	IsRead    *bool
	StartDate *time.Time
	EndDate   *time.Time
	Search    string
}

// UnreadByType always contains every NotificationType.
type UnreadByType map[NotificationType]int

func NewUnreadByType() UnreadByType {
	m := make(UnreadByType, len(NotificationTypes))
	for _, t := range NotificationTypes {
		m[t] = 0
	}
	return m
}
