package qc

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS qc_runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset    TEXT NOT NULL,
	reference  TEXT,
	k_mad      REAL NOT NULL,
	grouped    INTEGER NOT NULL,
	group_key  TEXT,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS qc_cells (
	run_id  INTEGER NOT NULL REFERENCES qc_runs(id),
	cell_id TEXT NOT NULL,
	grp     TEXT,
	score   REAL NOT NULL,
	qc      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS qc_groups (
	run_id     INTEGER NOT NULL REFERENCES qc_runs(id),
	grp        TEXT NOT NULL,
	n          INTEGER NOT NULL,
	median     REAL NOT NULL,
	mad        REAL NOT NULL,
	threshold  REAL NOT NULL,
	fail_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_qc_cells_run ON qc_cells(run_id);
`

// Store persists QC runs to SQLite. It stores this service's own outputs
// only; upstream metadata stays with the upstream container.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a SQLite store at the given path and
// ensures the schema exists.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating store schema: %w", err)
	}
	log.Printf("[STORE] opened %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReport persists one report (run row, group stats, per-cell results)
// in a single transaction and returns the run ID.
func (s *Store) SaveReport(ctx context.Context, report *Report) (int64, error) {
	if report == nil {
		return 0, fmt.Errorf("nil report")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	grouped := 0
	if report.Params.GroupByEnabled {
		grouped = 1
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO qc_runs(dataset, reference, k_mad, grouped, group_key, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		report.Dataset, report.Reference, report.Params.KMAD, grouped, report.Params.GroupKey,
		report.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	gstmt, err := tx.PrepareContext(ctx,
		`INSERT INTO qc_groups(run_id, grp, n, median, mad, threshold, fail_count) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer gstmt.Close()
	for _, g := range report.Groups {
		if _, err := gstmt.ExecContext(ctx, runID, g.Group, g.N, g.Median, g.MAD, g.Threshold, g.FailCount); err != nil {
			return 0, fmt.Errorf("inserting group %s: %w", g.Group, err)
		}
	}

	cstmt, err := tx.PrepareContext(ctx,
		`INSERT INTO qc_cells(run_id, cell_id, grp, score, qc) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer cstmt.Close()
	for _, c := range report.Cells {
		if _, err := cstmt.ExecContext(ctx, runID, c.CellID, c.Group, c.Score, string(c.QC)); err != nil {
			return 0, fmt.Errorf("inserting cell %s: %w", c.CellID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// RunInfo is one row of run history.
type RunInfo struct {
	ID        int64   `json:"id"`
	Dataset   string  `json:"dataset"`
	Reference string  `json:"reference"`
	KMAD      float64 `json:"kMad"`
	Grouped   bool    `json:"grouped"`
	GroupKey  string  `json:"groupKey,omitempty"`
	CreatedAt string  `json:"createdAt"`
	Cells     int     `json:"cells"`
	Fails     int     `json:"fails"`
}

// ListRuns returns run history for a dataset (all datasets when empty),
// newest first, up to limit rows.
func (s *Store) ListRuns(ctx context.Context, dataset string, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT r.id, r.dataset, COALESCE(r.reference, ''), r.k_mad, r.grouped, COALESCE(r.group_key, ''), r.created_at,
       (SELECT COUNT(*) FROM qc_cells c WHERE c.run_id = r.id),
       (SELECT COUNT(*) FROM qc_cells c WHERE c.run_id = r.id AND c.qc = 'Fail')
FROM qc_runs r`
	args := []any{}
	if dataset != "" {
		query += ` WHERE r.dataset = ?`
		args = append(args, dataset)
	}
	query += ` ORDER BY r.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		var grouped int
		if err := rows.Scan(&r.ID, &r.Dataset, &r.Reference, &r.KMAD, &grouped, &r.GroupKey, &r.CreatedAt, &r.Cells, &r.Fails); err != nil {
			return nil, err
		}
		r.Grouped = grouped != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadCells returns the scored cells of a run in insertion (input) order.
func (s *Store) LoadCells(ctx context.Context, runID int64) ([]ScoredCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cell_id, COALESCE(grp, ''), score, qc FROM qc_cells WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading cells for run %d: %w", runID, err)
	}
	defer rows.Close()

	var cells []ScoredCell
	for rows.Next() {
		var c ScoredCell
		var qc string
		if err := rows.Scan(&c.CellID, &c.Group, &c.Score, &qc); err != nil {
			return nil, err
		}
		c.QC = QCLabel(qc)
		cells = append(cells, c)
	}
	return cells, rows.Err()
}
