// Package db persists sample results to a local sqlite database so the
// HTTP API can serve history and rollup statistics across daemon restarts.
package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/depth-data/distance.report/internal/sampler"
)

// DB wraps the sqlite handle. A fresh run_id is minted per daemon start so
// history queries can distinguish runs.
type DB struct {
	*sql.DB
	runID string
}

// NewDB opens (creating if necessary) the database at path.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			run_id        TEXT,
			point         TEXT,
			x             INTEGER,
			y             INTEGER,
			avg_mm        DOUBLE,
			min_mm        DOUBLE,
			max_mm        DOUBLE,
			valid_pixels  INTEGER,
			valid         INTEGER,
			timestamp     BIGINT
		);
		CREATE INDEX IF NOT EXISTS idx_samples_point_ts ON samples(point, timestamp);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{DB: db, runID: uuid.NewString()}, nil
}

// RunID identifies this daemon run in recorded rows.
func (db *DB) RunID() string { return db.runID }

// RecordResults stores one pass worth of results stamped with ts (unix
// seconds).
func (db *DB) RecordResults(ts int64, results []sampler.Result) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO samples (run_id, point, x, y, avg_mm, min_mm, max_mm, valid_pixels, valid, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		valid := 0
		if r.Valid {
			valid = 1
		}
		if _, err := stmt.Exec(db.runID, r.Name, r.X, r.Y,
			r.AvgDistance, r.MinDistance, r.MaxDistance,
			r.ValidPixels, valid, ts); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert sample for %s: %w", r.Name, err)
		}
	}
	return tx.Commit()
}

// Sample is one stored row.
type Sample struct {
	Point       string  `json:"point"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	AvgMm       float64 `json:"avg_mm"`
	MinMm       float64 `json:"min_mm"`
	MaxMm       float64 `json:"max_mm"`
	ValidPixels int     `json:"valid_pixels"`
	Valid       bool    `json:"valid"`
	Timestamp   int64   `json:"timestamp"`
}

// RecentSamples returns samples from the last N hours, newest first.
func (db *DB) RecentSamples(hours int) ([]Sample, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	rows, err := db.Query(`
		SELECT point, x, y, avg_mm, min_mm, max_mm, valid_pixels, valid, timestamp
		FROM samples WHERE timestamp >= ? ORDER BY timestamp DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		var valid int
		if err := rows.Scan(&s.Point, &s.X, &s.Y, &s.AvgMm, &s.MinMm, &s.MaxMm,
			&s.ValidPixels, &valid, &s.Timestamp); err != nil {
			return nil, err
		}
		s.Valid = valid != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// PointStat is the rollup for one point over a window: distance statistics
// computed over valid samples only.
type PointStat struct {
	Point       string  `json:"point"`
	Samples     int     `json:"samples"`
	ValidShare  float64 `json:"valid_share"`
	MeanMm      float64 `json:"mean_mm"`
	P50Mm       float64 `json:"p50_mm"`
	P85Mm       float64 `json:"p85_mm"`
	P98Mm       float64 `json:"p98_mm"`
	MinMm       float64 `json:"min_mm"`
	MaxMm       float64 `json:"max_mm"`
}

// PointStats rolls up the last N hours per point.
func (db *DB) PointStats(hours int) ([]PointStat, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	rows, err := db.Query(`
		SELECT point, avg_mm, valid FROM samples
		WHERE timestamp >= ? ORDER BY point`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type agg struct {
		total     int
		distances []float64 // valid samples only
	}
	byPoint := make(map[string]*agg)
	var order []string
	for rows.Next() {
		var point string
		var avg float64
		var valid int
		if err := rows.Scan(&point, &avg, &valid); err != nil {
			return nil, err
		}
		a, ok := byPoint[point]
		if !ok {
			a = &agg{}
			byPoint[point] = a
			order = append(order, point)
		}
		a.total++
		if valid != 0 {
			a.distances = append(a.distances, avg)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]PointStat, 0, len(order))
	for _, point := range order {
		a := byPoint[point]
		ps := PointStat{Point: point, Samples: a.total}
		if a.total > 0 {
			ps.ValidShare = float64(len(a.distances)) / float64(a.total)
		}
		if len(a.distances) > 0 {
			sort.Float64s(a.distances)
			ps.MeanMm = stat.Mean(a.distances, nil)
			ps.P50Mm = stat.Quantile(0.50, stat.Empirical, a.distances, nil)
			ps.P85Mm = stat.Quantile(0.85, stat.Empirical, a.distances, nil)
			ps.P98Mm = stat.Quantile(0.98, stat.Empirical, a.distances, nil)
			ps.MinMm = a.distances[0]
			ps.MaxMm = a.distances[len(a.distances)-1]
		}
		stats = append(stats, ps)
	}
	return stats, nil
}
