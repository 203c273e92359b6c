package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"cohort/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent bulk workers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Snapshots ---

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	if snap.ID == "" {
		snap.ID = newULID()
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}
	snap.TakenAt = snap.TakenAt.UTC()

	projects, err := json.Marshal(snap.Projects)
	if err != nil {
		return fmt.Errorf("marshal projects: %w", err)
	}
	summary, err := json.Marshal(snap.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, taken_at, summary, projects) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.TakenAt, string(summary), string(projects),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	snap, err := s.snapshotRow(ctx,
		`SELECT id, taken_at, summary, projects FROM snapshots WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	snap, err := s.snapshotRow(ctx,
		`SELECT id, taken_at, summary, projects FROM snapshots
		ORDER BY taken_at DESC, id DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshots recorded: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) PreviousSnapshot(ctx context.Context, before time.Time) (*models.Snapshot, error) {
	snap, err := s.snapshotRow(ctx,
		`SELECT id, taken_at, summary, projects FROM snapshots
		WHERE taken_at < ? ORDER BY taken_at DESC, id DESC LIMIT 1`, before.UTC())
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot before %s: %w", before.Format(time.RFC3339), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("previous snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit int) ([]*models.Snapshot, error) {
	query := `SELECT id, taken_at, summary, projects FROM snapshots ORDER BY taken_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap := &models.Snapshot{}
		var summary, projects string
		if err := rows.Scan(&snap.ID, &snap.TakenAt, &summary, &projects); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := unmarshalSnapshot(snap, summary, projects); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// snapshotRow runs a single-row snapshot query and decodes its JSON columns.
func (s *SQLiteStore) snapshotRow(ctx context.Context, query string, args ...any) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	var summary, projects string
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&snap.ID, &snap.TakenAt, &summary, &projects)
	if err != nil {
		return nil, err
	}
	if err := unmarshalSnapshot(snap, summary, projects); err != nil {
		return nil, err
	}
	return snap, nil
}

func unmarshalSnapshot(snap *models.Snapshot, summary, projects string) error {
	if err := json.Unmarshal([]byte(summary), &snap.Summary); err != nil {
		return fmt.Errorf("unmarshal snapshot summary: %w", err)
	}
	if err := json.Unmarshal([]byte(projects), &snap.Projects); err != nil {
		return fmt.Errorf("unmarshal snapshot projects: %w", err)
	}
	return nil
}

// --- Bulk runs ---

func (s *SQLiteStore) CreateBulkRun(ctx context.Context, run *models.BulkRun) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.StartedAt = run.StartedAt.UTC()

	items, recs, err := marshalRunJSON(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bulk_runs (id, operation, status, total, processed, succeeded, failed, started_at, ended_at, items, recommendations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Operation, string(run.Status),
		run.Total, run.Processed, run.Succeeded, run.Failed,
		run.StartedAt, run.EndedAt, items, recs,
	)
	if err != nil {
		return fmt.Errorf("create bulk run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateBulkRun(ctx context.Context, run *models.BulkRun) error {
	items, recs, err := marshalRunJSON(run)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE bulk_runs SET status=?, total=?, processed=?, succeeded=?, failed=?, ended_at=?, items=?, recommendations=?
		WHERE id=?`,
		string(run.Status), run.Total, run.Processed, run.Succeeded, run.Failed,
		run.EndedAt, items, recs, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update bulk run: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("bulk run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetBulkRun(ctx context.Context, id string) (*models.BulkRun, error) {
	run, err := s.bulkRunRow(ctx,
		`SELECT id, operation, status, total, processed, succeeded, failed, started_at, ended_at, items, recommendations
		FROM bulk_runs WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bulk run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bulk run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) LatestBulkRun(ctx context.Context, operation string) (*models.BulkRun, error) {
	run, err := s.bulkRunRow(ctx,
		`SELECT id, operation, status, total, processed, succeeded, failed, started_at, ended_at, items, recommendations
		FROM bulk_runs WHERE operation = ? ORDER BY started_at DESC, id DESC LIMIT 1`, operation)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no %s runs recorded: %w", operation, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest bulk run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListBulkRuns(ctx context.Context, operation string, limit int) ([]*models.BulkRun, error) {
	query := `SELECT id, operation, status, total, processed, succeeded, failed, started_at, ended_at, items, recommendations
		FROM bulk_runs`
	var args []any
	if operation != "" {
		query += " WHERE operation = ?"
		args = append(args, operation)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bulk runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.BulkRun
	for rows.Next() {
		run := &models.BulkRun{}
		var status, items, recs string
		var endedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.Operation, &status,
			&run.Total, &run.Processed, &run.Succeeded, &run.Failed,
			&run.StartedAt, &endedAt, &items, &recs); err != nil {
			return nil, fmt.Errorf("scan bulk run: %w", err)
		}
		if err := unmarshalBulkRun(run, status, endedAt, items, recs); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// bulkRunRow runs a single-row bulk run query and decodes its JSON columns.
func (s *SQLiteStore) bulkRunRow(ctx context.Context, query string, args ...any) (*models.BulkRun, error) {
	run := &models.BulkRun{}
	var status, items, recs string
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&run.ID, &run.Operation, &status,
			&run.Total, &run.Processed, &run.Succeeded, &run.Failed,
			&run.StartedAt, &endedAt, &items, &recs)
	if err != nil {
		return nil, err
	}
	if err := unmarshalBulkRun(run, status, endedAt, items, recs); err != nil {
		return nil, err
	}
	return run, nil
}

func marshalRunJSON(run *models.BulkRun) (items string, recs string, err error) {
	itemsJSON, err := json.Marshal(run.Items)
	if err != nil {
		return "", "", fmt.Errorf("marshal bulk items: %w", err)
	}
	recsJSON, err := json.Marshal(run.Recommendations)
	if err != nil {
		return "", "", fmt.Errorf("marshal recommendations: %w", err)
	}
	return string(itemsJSON), string(recsJSON), nil
}

func unmarshalBulkRun(run *models.BulkRun, status string, endedAt sql.NullTime, items, recs string) error {
	run.Status = models.BulkStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(items), &run.Items); err != nil {
		return fmt.Errorf("unmarshal bulk items: %w", err)
	}
	if err := json.Unmarshal([]byte(recs), &run.Recommendations); err != nil {
		return fmt.Errorf("unmarshal recommendations: %w", err)
	}
	return nil
}

// --- Reports ---

func (s *SQLiteStore) SaveReport(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = newULID()
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now()
	}
	report.GeneratedAt = report.GeneratedAt.UTC()

	payload := string(report.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, kind, generated_at, payload) VALUES (?, ?, ?, ?)`,
		report.ID, string(report.Kind), report.GeneratedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	report := &models.Report{}
	var kind, payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, generated_at, payload FROM reports WHERE id = ?`, id,
	).Scan(&report.ID, &kind, &report.GeneratedAt, &payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	report.Kind = models.ReportKind(kind)
	report.Payload = json.RawMessage(payload)
	return report, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, kind models.ReportKind, limit int) ([]*models.Report, error) {
	query := `SELECT id, kind, generated_at, payload FROM reports`
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY generated_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []*models.Report
	for rows.Next() {
		report := &models.Report{}
		var k, payload string
		if err := rows.Scan(&report.ID, &k, &report.GeneratedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		report.Kind = models.ReportKind(k)
		report.Payload = json.RawMessage(payload)
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
