package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modporter/modporter/internal/orchestration"
	"github.com/modporter/modporter/pkg/models"
)

// RecordStrategyPerformance persists one finished-run observation so
// future processes can seed the selector with it.
func (db *DB) RecordStrategyPerformance(r orchestration.PerformanceRecord) error {
	var extra []byte
	if r.Extra != nil {
		extra, _ = json.Marshal(r.Extra)
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO strategy_performance (strategy, success_rate, duration_ms, task_count, extra, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(r.Strategy), r.SuccessRate, r.Duration.Milliseconds(), r.TaskCount, string(extra), formatTime(ts))
	if err != nil {
		return fmt.Errorf("record strategy performance: %w", err)
	}
	return nil
}

// LoadStrategyHistory returns the most recent performance records, oldest
// first so they can be replayed into a selector in recording order. A
// non-positive limit loads everything.
func (db *DB) LoadStrategyHistory(limit int) ([]orchestration.PerformanceRecord, error) {
	query := `
		SELECT strategy, success_rate, duration_ms, task_count, extra, recorded_at
		FROM strategy_performance ORDER BY recorded_at DESC, id DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("load strategy history: %w", err)
	}
	defer rows.Close()

	var records []orchestration.PerformanceRecord
	for rows.Next() {
		var r orchestration.PerformanceRecord
		var strategy, recordedAt string
		var durationMS int64
		var extra string
		if err := rows.Scan(&strategy, &r.SuccessRate, &durationMS, &r.TaskCount, &extra, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan strategy performance: %w", err)
		}
		r.Strategy = models.OrchestrationStrategy(strategy)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if extra != "" {
			json.Unmarshal([]byte(extra), &r.Extra)
		}
		r.Timestamp, _ = parseTime(recordedAt)
		records = append(records, r)
	}

	// Reverse into chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// SeedSelector replays the persisted history into a selector. The
// per-strategy rolling window in the selector caps what is retained.
func (db *DB) SeedSelector(s *orchestration.StrategySelector, limit int) error {
	records, err := db.LoadStrategyHistory(limit)
	if err != nil {
		return err
	}
	s.SeedHistory(records)
	return nil
}

// PurgeOldStrategyPerformance deletes records older than the cutoff.
func (db *DB) PurgeOldStrategyPerformance(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec("DELETE FROM strategy_performance WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge strategy performance: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}
