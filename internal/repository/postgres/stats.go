package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/internal/repository"
)

const topCandidateMinScore = 80

type statsRepository struct {
	BaseRepository
}

// NewStatsRepository reads the host product's users and candidates tables.
func NewStatsRepository(db *sqlx.DB) repository.StatsRepository {
	return &statsRepository{NewBaseRepository(db)}
}

func (r *statsRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (r *statsRepository) CountCompletedCandidates(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, r.q(`SELECT COUNT(*) FROM candidates WHERE status = ?`), model.ProcessingCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed candidates: %w", err)
	}
	return n, nil
}

func (r *statsRepository) ProcessingWindow(ctx context.Context, since time.Time) (*model.ProcessingWindowStats, error) {
	var s model.ProcessingWindowStats
	err := r.db.GetContext(ctx, &s, r.q(`
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status = ? AND processing_time_ms IS NOT NULL THEN 1 ELSE 0 END), 0) AS timed,
			COALESCE(AVG(CASE WHEN status = ? THEN processing_time_ms END), 0) AS avg_processing_ms
		FROM candidates
		WHERE created_at >= ?
	`), model.ProcessingCompleted, model.ProcessingFailed, model.ProcessingCompleted, model.ProcessingCompleted, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate processing window: %w", err)
	}
	return &s, nil
}

// MonthlySummary summarises candidates created in [from, to).
func (r *statsRepository) MonthlySummary(ctx context.Context, from, to time.Time) (*model.MonthlyReport, error) {
	var agg struct {
		Completed int64   `db:"completed"`
		Failed    int64   `db:"failed"`
		AvgScore  float64 `db:"avg_score"`
	}
	err := r.db.GetContext(ctx, &agg, r.q(`
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(AVG(CASE WHEN status = ? THEN score END), 0) AS avg_score
		FROM candidates
		WHERE created_at >= ? AND created_at < ?
	`), model.ProcessingCompleted, model.ProcessingFailed, model.ProcessingCompleted, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate monthly summary: %w", err)
	}

	top := []model.TopCandidate{}
	err = r.db.SelectContext(ctx, &top, r.q(`
		SELECT id, name, job_role, score FROM candidates
		WHERE status = ? AND score >= ? AND created_at >= ? AND created_at < ?
		ORDER BY score DESC
		LIMIT 5
	`), model.ProcessingCompleted, topCandidateMinScore, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list top candidates: %w", err)
	}

	successRate := 100.0
	if total := agg.Completed + agg.Failed; total > 0 {
		successRate = math.Round(float64(agg.Completed) / float64(total) * 100)
	}

	return &model.MonthlyReport{
		Month:          from.UTC().Format("2006-01"),
		TotalProcessed: agg.Completed,
		AverageScore:   math.Round(agg.AvgScore),
		SuccessRate:    successRate,
		TopCandidates:  top,
	}, nil
}
