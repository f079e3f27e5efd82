package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-api/internal/model"
)

// InsertUser adds a row to the host users table.
func InsertUser(t *testing.T, db *sqlx.DB, role model.Role, email string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(db.Rebind(`INSERT INTO users (id, email, role, created_at) VALUES (?, ?, ?, ?)`),
		id, email, role, time.Now().UTC())
	if err != nil {
		t.Fatalf("inserting user: %v", err)
	}
	return id
}

// Candidate is a host candidates row for detector tests.
type Candidate struct {
	ID               string
	UserID           uuid.UUID
	Name             string
	JobRole          string
	Status           model.ProcessingStatus
	Score            *float64
	ProcessingTimeMs *int64
	CreatedAt        time.Time
}

func InsertCandidate(t *testing.T, db *sqlx.DB, c Candidate) {
	t.Helper()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(db.Rebind(`
		INSERT INTO candidates (id, user_id, name, job_role, status, score, processing_time_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.UserID, c.Name, c.JobRole, c.Status, c.Score, c.ProcessingTimeMs, c.CreatedAt.UTC(), c.CreatedAt.UTC())
	if err != nil {
		t.Fatalf("inserting candidate: %v", err)
	}
}

func Float(v float64) *float64 { return &v }
func Int64(v int64) *int64     { return &v }
