package state

import (
	"database/sql"
	"fmt"
	"time"
)

// ConversionStatus represents the status of a conversion run.
type ConversionStatus string

const (
	ConversionRunning   ConversionStatus = "running"
	ConversionCompleted ConversionStatus = "completed"
	ConversionPartial   ConversionStatus = "partial"
	ConversionFailed    ConversionStatus = "failed"
)

// Conversion represents one mod conversion run end to end.
type Conversion struct {
	ID                 string           `json:"id"`
	ModPath            string           `json:"mod_path"`
	OutputPath         string           `json:"output_path"`
	Strategy           string           `json:"strategy"`
	Status             ConversionStatus `json:"status"`
	SuccessRate        float64          `json:"success_rate"`
	ParallelEfficiency float64          `json:"parallel_efficiency"`
	DynamicSpawned     int              `json:"dynamic_spawned"`
	TotalTasks         int              `json:"total_tasks"`
	CompletedTasks     int              `json:"completed_tasks"`
	FailedTasks        int              `json:"failed_tasks"`
	WallClock          time.Duration    `json:"wall_clock"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         *time.Time       `json:"finished_at"`
}

// CreateConversion records the start of a conversion run.
func (db *DB) CreateConversion(c *Conversion) error {
	_, err := db.Exec(`
		INSERT INTO conversions (id, mod_path, output_path, strategy, status, success_rate,
			parallel_efficiency, dynamic_spawned, total_tasks, completed_tasks, failed_tasks,
			wall_clock_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ModPath, c.OutputPath, c.Strategy, string(c.Status), c.SuccessRate,
		c.ParallelEfficiency, c.DynamicSpawned, c.TotalTasks, c.CompletedTasks, c.FailedTasks,
		c.WallClock.Milliseconds(), formatTime(c.StartedAt), nil)
	if err != nil {
		return fmt.Errorf("create conversion: %w", err)
	}
	return nil
}

// GetConversion retrieves a conversion by ID. Returns nil when absent.
func (db *DB) GetConversion(id string) (*Conversion, error) {
	row := db.QueryRow(`
		SELECT id, mod_path, output_path, strategy, status, success_rate, parallel_efficiency,
			dynamic_spawned, total_tasks, completed_tasks, failed_tasks, wall_clock_ms,
			started_at, finished_at
		FROM conversions WHERE id = ?
	`, id)

	c, err := scanConversion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion: %w", err)
	}
	return c, nil
}

// UpdateConversion updates a conversion with its final results.
func (db *DB) UpdateConversion(c *Conversion) error {
	var finishedAt *string
	if c.FinishedAt != nil {
		s := formatTime(*c.FinishedAt)
		finishedAt = &s
	}

	_, err := db.Exec(`
		UPDATE conversions SET output_path = ?, strategy = ?, status = ?, success_rate = ?,
			parallel_efficiency = ?, dynamic_spawned = ?, total_tasks = ?, completed_tasks = ?,
			failed_tasks = ?, wall_clock_ms = ?, finished_at = ?
		WHERE id = ?
	`, c.OutputPath, c.Strategy, string(c.Status), c.SuccessRate, c.ParallelEfficiency,
		c.DynamicSpawned, c.TotalTasks, c.CompletedTasks, c.FailedTasks,
		c.WallClock.Milliseconds(), finishedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update conversion: %w", err)
	}
	return nil
}

// ListConversions lists conversion runs, newest first, optionally filtered
// by status.
func (db *DB) ListConversions(status *ConversionStatus) ([]Conversion, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT id, mod_path, output_path, strategy, status, success_rate, parallel_efficiency,
				dynamic_spawned, total_tasks, completed_tasks, failed_tasks, wall_clock_ms,
				started_at, finished_at
			FROM conversions WHERE status = ? ORDER BY started_at DESC
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT id, mod_path, output_path, strategy, status, success_rate, parallel_efficiency,
				dynamic_spawned, total_tasks, completed_tasks, failed_tasks, wall_clock_ms,
				started_at, finished_at
			FROM conversions ORDER BY started_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var conversions []Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		conversions = append(conversions, *c)
	}
	return conversions, nil
}

// PurgeOldConversions deletes conversion runs started before the cutoff.
// Returns the number of rows deleted.
func (db *DB) PurgeOldConversions(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec("DELETE FROM conversions WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old conversions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// scanner abstracts sql.Row and sql.Rows for scanConversion.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversion(s scanner) (*Conversion, error) {
	var c Conversion
	var outputPath sql.NullString
	var wallClockMS int64
	var startedAt string
	var finishedAt sql.NullString
	err := s.Scan(&c.ID, &c.ModPath, &outputPath, &c.Strategy, &c.Status, &c.SuccessRate,
		&c.ParallelEfficiency, &c.DynamicSpawned, &c.TotalTasks, &c.CompletedTasks,
		&c.FailedTasks, &wallClockMS, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if outputPath.Valid {
		c.OutputPath = outputPath.String
	}
	c.WallClock = time.Duration(wallClockMS) * time.Millisecond
	c.StartedAt, _ = parseTime(startedAt)
	c.FinishedAt = parseNullableTime(finishedAt)
	return &c, nil
}
