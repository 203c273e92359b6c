package store

import (
	"context"
	"errors"
	"time"

	"cohort/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for cohort.
type Store interface {
	// Snapshots
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
	LatestSnapshot(ctx context.Context) (*models.Snapshot, error)
	PreviousSnapshot(ctx context.Context, before time.Time) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]*models.Snapshot, error)

	// Bulk runs
	CreateBulkRun(ctx context.Context, run *models.BulkRun) error
	UpdateBulkRun(ctx context.Context, run *models.BulkRun) error
	GetBulkRun(ctx context.Context, id string) (*models.BulkRun, error)
	LatestBulkRun(ctx context.Context, operation string) (*models.BulkRun, error)
	ListBulkRuns(ctx context.Context, operation string, limit int) ([]*models.BulkRun, error)

	// Reports
	SaveReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ListReports(ctx context.Context, kind models.ReportKind, limit int) ([]*models.Report, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
