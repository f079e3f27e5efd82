package model

import (
	"github.com/google/uuid"
)

// Domain event names published on the in-process bus.
const (
	EventCandidateApplicationNew     = "candidate.application.new"
	EventCandidateStatusChanged      = "candidate.status.changed"
	EventCandidateAIAnalysisComplete = "candidate.ai.analysis.complete"
	EventCandidateProcessingFailed   = "candidate.processing.failed"

	EventCandidateShortlisted           = "candidate.shortlisted"
	EventCandidateRemovedFromShortlist  = "candidate.removed.from.shortlist"
	EventCandidateDeleted               = "candidate.deleted"
	EventCandidateBiasDetected          = "candidate.bias.detected"
	EventCandidateDuplicateFound        = "candidate.duplicate.found"
	EventBulkProcessingComplete         = "bulk.processing.complete"

	EventSystemError            = "system.error"
	EventSecurityAlert          = "security.alert"
	EventHealthMetricsAlert     = "health.metrics.alert"
	EventPerformanceDegradation = "performance.degradation"

	EventUserMilestoneReached       = "milestone.user.reached"
	EventProcessingMilestoneReached = "milestone.processing.reached"
	EventMonthlyAnalyticsReport     = "analytics.monthly.report"
)

// ProcessingStatus of a candidate in the evaluation pipeline.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

type CandidateProcessingEvent struct {
	CandidateID    string           `json:"candidateId"`
	CandidateName  string           `json:"candidateName"`
	UserID         uuid.UUID        `json:"userId"`
	JobRole        string           `json:"jobRole,omitempty"`
	Status         ProcessingStatus `json:"status,omitempty"`
	ProcessingTime int64            `json:"processingTime,omitempty"` // milliseconds
	Error          string           `json:"error,omitempty"`
}

func (e CandidateProcessingEvent) PartitionKey() string { return e.UserID.String() }

type CandidateAction string

const (
	ActionShortlisted          CandidateAction = "shortlisted"
	ActionRemovedFromShortlist CandidateAction = "removed_from_shortlist"
	ActionDeleted              CandidateAction = "deleted"
	ActionBiasDetected         CandidateAction = "bias_detected"
	ActionDuplicateFound       CandidateAction = "duplicate_found"
)

type CandidateManagementEvent struct {
	CandidateID   string          `json:"candidateId"`
	CandidateName string          `json:"candidateName"`
	UserID        uuid.UUID       `json:"userId"`
	Action        CandidateAction `json:"action"`
	Details       JSONMap         `json:"details,omitempty"`
}

func (e CandidateManagementEvent) PartitionKey() string { return e.UserID.String() }

type BulkProcessingEvent struct {
	UserID           uuid.UUID `json:"userId"`
	TotalCandidates  int       `json:"totalCandidates"`
	SuccessCount     int       `json:"successCount"`
	FailedCount      int       `json:"failedCount"`
	ProcessingTime   int64     `json:"processingTime"`
	FailedCandidates []string  `json:"failedCandidates,omitempty"`
}

func (e BulkProcessingEvent) PartitionKey() string { return e.UserID.String() }

// SuccessRate is a percentage rounded to one decimal; zero candidates yields 0.
func (e BulkProcessingEvent) SuccessRate() float64 {
	if e.TotalCandidates <= 0 {
		return 0
	}
	rate := float64(e.SuccessCount) / float64(e.TotalCandidates) * 100
	return float64(int64(rate*10+0.5)) / 10
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SystemAlertEvent goes to AffectedUsers, or to every admin when empty.
type SystemAlertEvent struct {
	Severity      Severity    `json:"severity"`
	Message       string      `json:"message"`
	Details       JSONMap     `json:"details,omitempty"`
	AffectedUsers []uuid.UUID `json:"affectedUsers,omitempty"`
}

type MilestoneKind string

const (
	MilestoneUserCount       MilestoneKind = "user_count"
	MilestoneProcessingCount MilestoneKind = "processing_count"
)

type MilestoneEvent struct {
	Kind         MilestoneKind `json:"type"`
	Milestone    int64         `json:"milestone"`
	CurrentValue int64         `json:"currentValue"`
	AdminUsers   []uuid.UUID   `json:"adminUsers"`
}

// TopCandidate is one entry of a monthly report's leaderboard.
type TopCandidate struct {
	ID      string  `json:"id" db:"id"`
	Name    string  `json:"name" db:"name"`
	JobRole string  `json:"jobRole" db:"job_role"`
	Score   float64 `json:"score" db:"score"`
}

type MonthlyReport struct {
	Month          string         `json:"month"` // YYYY-MM of the summarised month
	TotalProcessed int64          `json:"totalProcessed"`
	AverageScore   float64        `json:"averageScore"`
	SuccessRate    float64        `json:"successRate"`
	TopCandidates  []TopCandidate `json:"topCandidates"`
}

type MonthlyReportEvent struct {
	AdminUsers []uuid.UUID   `json:"adminUsers"`
	Report     MonthlyReport `json:"reportData"`
}
