package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/internal/repository/postgres"
	"github.com/jwalitptl/notification-api/internal/testutil"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
)

func TestStatsCounts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := postgres.NewStatsRepository(db)
	ctx := context.Background()

	owner := testutil.InsertUser(t, db, model.RoleRecruiter, "r@example.com")
	testutil.InsertUser(t, db, model.RoleAdmin, "a@example.com")
	testutil.InsertCandidate(t, db, testutil.Candidate{UserID: owner, Name: "Ada", Status: model.ProcessingCompleted})
	testutil.InsertCandidate(t, db, testutil.Candidate{UserID: owner, Name: "Bob", Status: model.ProcessingFailed})
	testutil.InsertCandidate(t, db, testutil.Candidate{UserID: owner, Name: "Cy", Status: model.ProcessingCompleted})

	users, err := repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, users)

	completed, err := repo.CountCompletedCandidates(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, completed)
}

func TestProcessingWindow(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := postgres.NewStatsRepository(db)
	owner := uuid.New()
	since := base.Add(-10 * time.Minute)

	for _, c := range []testutil.Candidate{
		{Status: model.ProcessingCompleted, ProcessingTimeMs: testutil.Int64(1000), CreatedAt: base},
		{Status: model.ProcessingCompleted, ProcessingTimeMs: testutil.Int64(3000), CreatedAt: base.Add(-time.Minute)},
		{Status: model.ProcessingCompleted, CreatedAt: base.Add(-2 * time.Minute)},
		{Status: model.ProcessingFailed, CreatedAt: base.Add(-3 * time.Minute)},
		{Status: model.ProcessingProcessing, CreatedAt: base},
		{Status: model.ProcessingCompleted, ProcessingTimeMs: testutil.Int64(900000), CreatedAt: since.Add(-time.Second)},
	} {
		c.UserID, c.Name = owner, "candidate"
		testutil.InsertCandidate(t, db, c)
	}

	stats, err := repo.ProcessingWindow(context.Background(), since)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Completed)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 2, stats.Timed)
	assert.InDelta(t, 2000, stats.AvgProcessingTimeMs, 0.001)
	assert.InDelta(t, 25, stats.FailureRate(), 0.001)

	empty, err := repo.ProcessingWindow(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Completed+empty.Failed+empty.Timed)
	assert.Zero(t, empty.FailureRate())
}

func TestMonthlySummary(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := postgres.NewStatsRepository(db)
	owner := uuid.New()
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	for _, c := range []testutil.Candidate{
		{Name: "Ada", JobRole: "Engineer", Status: model.ProcessingCompleted, Score: testutil.Float(90), CreatedAt: from},
		{Name: "Bob", JobRole: "Designer", Status: model.ProcessingCompleted, Score: testutil.Float(85), CreatedAt: from.AddDate(0, 0, 10)},
		{Name: "Cy", Status: model.ProcessingCompleted, Score: testutil.Float(70), CreatedAt: from.AddDate(0, 0, 20)},
		{Name: "Dee", Status: model.ProcessingFailed, CreatedAt: from.AddDate(0, 0, 27)},
		{Name: "Late", Status: model.ProcessingCompleted, Score: testutil.Float(99), CreatedAt: to},
	} {
		c.UserID = owner
		testutil.InsertCandidate(t, db, c)
	}

	report, err := repo.MonthlySummary(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, "2024-02", report.Month)
	assert.EqualValues(t, 3, report.TotalProcessed)
	assert.Equal(t, 82.0, report.AverageScore)
	assert.Equal(t, 75.0, report.SuccessRate)
	require.Len(t, report.TopCandidates, 2)
	assert.Equal(t, "Ada", report.TopCandidates[0].Name)
	assert.Equal(t, "Engineer", report.TopCandidates[0].JobRole)
	assert.Equal(t, "Bob", report.TopCandidates[1].Name)

	quiet, err := repo.MonthlySummary(context.Background(), from.AddDate(-1, 0, 0), from.AddDate(-1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, "2023-02", quiet.Month)
	assert.Zero(t, quiet.TotalProcessed)
	assert.Equal(t, 100.0, quiet.SuccessRate)
	assert.Empty(t, quiet.TopCandidates)
}

func TestDirectory(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := postgres.NewDirectoryRepository(db)
	ctx := context.Background()

	a1 := testutil.InsertUser(t, db, model.RoleAdmin, "one@example.com")
	a2 := testutil.InsertUser(t, db, model.RoleAdmin, "two@example.com")
	rec := testutil.InsertUser(t, db, model.RoleRecruiter, "rec@example.com")

	admins, err := repo.AdminIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a1, a2}, admins)

	email, err := repo.Email(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "rec@example.com", email)

	_, err = repo.Email(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}
