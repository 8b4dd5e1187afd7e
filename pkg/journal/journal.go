package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pingcap/errors"
	// register the pure go sqlite driver
	_ "modernc.org/sqlite"

	"github.com/hanfei1991/batcher/model"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
)

// Journal keeps cycle reports in a SQLite file.
type Journal struct {
	db *sql.DB
}

// Entry is one recorded cycle.
type Entry struct {
	ID         int64
	RecordedAt time.Time
	Report     model.CycleReport
}

// TargetSummary aggregates the cycles recorded for one target.
type TargetSummary struct {
	Target       model.TargetID
	Cycles       int
	Placed       int
	Partial      int
	Abstained    int
	Canceled     int
	AvgFraction  float64
	Launched     int
	Shortfall    int
	LastRecorded time.Time
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, derrors.ErrJournalEmptyPath.GenWithStackByArgs()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Trace(err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			target TEXT NOT NULL,
			outcome TEXT NOT NULL,
			fraction REAL NOT NULL,
			searched INTEGER NOT NULL,
			launched INTEGER NOT NULL,
			shortfall INTEGER NOT NULL,
			report TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS cycles_target ON cycles(target, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Annotate(err, "init journal schema")
		}
	}
	return nil
}

// Record implements driver.Recorder.
func (j *Journal) Record(ctx context.Context, report *model.CycleReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return errors.Trace(err)
	}
	searched := 0
	if report.Searched {
		searched = 1
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO cycles (batch_id, target, outcome, fraction, searched, launched, shortfall, report, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.BatchID, report.Target, string(report.Outcome), report.FractionUsed, searched,
		report.TotalLaunched(), report.TotalShortfall(), string(data), time.Now().UnixMilli())
	return errors.Trace(err)
}

// Recent returns up to limit entries, newest first. An empty target
// matches every target.
func (j *Journal) Recent(ctx context.Context, target model.TargetID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, report, recorded_at FROM cycles
		WHERE ? = '' OR target = ?
		ORDER BY id DESC LIMIT ?`, target, target, limit)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	var ret []Entry
	for rows.Next() {
		var (
			e        Entry
			report   string
			recorded int64
		)
		if err := rows.Scan(&e.ID, &report, &recorded); err != nil {
			return nil, errors.Trace(err)
		}
		if err := json.Unmarshal([]byte(report), &e.Report); err != nil {
			return nil, errors.Annotatef(err, "decode cycle %d", e.ID)
		}
		e.RecordedAt = time.UnixMilli(recorded)
		ret = append(ret, e)
	}
	return ret, errors.Trace(rows.Err())
}

// Summary aggregates the journal per target, ordered by target.
func (j *Journal) Summary(ctx context.Context) ([]TargetSummary, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT target, COUNT(*),
			SUM(outcome = 'placed'), SUM(outcome = 'partial'),
			SUM(outcome = 'abstained'), SUM(outcome = 'canceled'),
			AVG(fraction), SUM(launched), SUM(shortfall), MAX(recorded_at)
		FROM cycles GROUP BY target ORDER BY target`)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	var ret []TargetSummary
	for rows.Next() {
		var (
			s    TargetSummary
			last int64
		)
		if err := rows.Scan(&s.Target, &s.Cycles, &s.Placed, &s.Partial, &s.Abstained, &s.Canceled,
			&s.AvgFraction, &s.Launched, &s.Shortfall, &last); err != nil {
			return nil, errors.Trace(err)
		}
		s.LastRecorded = time.UnixMilli(last)
		ret = append(ret, s)
	}
	return ret, errors.Trace(rows.Err())
}

// Close closes the database.
func (j *Journal) Close() error {
	return errors.Trace(j.db.Close())
}
