package model

// ProcessingWindowStats aggregates candidate processing over a trailing window.
type ProcessingWindowStats struct {
	Completed int64 `db:"completed"`
	Failed    int64 `db:"failed"`
	// Timed is the number of completed candidates that recorded a processing time.
	Timed               int64   `db:"timed"`
	AvgProcessingTimeMs float64 `db:"avg_processing_ms"`
}

// FailureRate is failed/(failed+completed) as a percentage; 0 when idle.
func (s ProcessingWindowStats) FailureRate() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total) * 100
}
