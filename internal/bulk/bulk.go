// Package bulk runs paced batch operations over roster keys with bounded
// concurrency, live progress callbacks and a persisted run history.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cohort/internal/models"
	"cohort/internal/store"
)

// Defaults applied when the corresponding Runner field is zero.
const (
	DefaultBatchSize  = 10
	DefaultMaxWorkers = 5
	DefaultDelay      = 2 * time.Second
)

// Operation names bulk runs are stored under.
const (
	OpFolders     = "folders"
	OpIssues      = "issues"
	OpInvitations = "invitations"
	OpProgress    = "progress"
	OpReports     = "reports"
)

// statsWindow is how many stored runs Stats aggregates.
const statsWindow = 20

// perItemSeconds estimates the cost of processing one key per operation.
var perItemSeconds = map[string]float64{
	OpFolders:     3.0,
	OpIssues:      2.0,
	OpInvitations: 1.0,
	OpProgress:    0.5,
	OpReports:     10.0,
}

// ItemFunc processes a single roster key within a bulk run.
type ItemFunc func(ctx context.Context, key string) error

// Progress is a point-in-time view of a running operation.
type Progress struct {
	Operation string            `json:"operation"`
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Percent   float64           `json:"percent"`
	StartedAt time.Time         `json:"started_at"`
	Status    models.BulkStatus `json:"status"`
}

// Runner executes operations in paced batches. Zero pacing fields fall
// back to the package defaults; Delay applies between batches, not items.
// A Runner tracks at most one run at a time. Store may be nil, in which
// case runs are not persisted.
type Runner struct {
	BatchSize  int
	MaxWorkers int
	Delay      time.Duration

	Store store.Store
	Log   *zap.Logger

	mu      sync.Mutex
	current *models.BulkRun
	stop    context.CancelFunc
}

func (r *Runner) batchSize() int {
	if r.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return r.BatchSize
}

func (r *Runner) maxWorkers() int {
	if r.MaxWorkers <= 0 {
		return DefaultMaxWorkers
	}
	return r.MaxWorkers
}

func (r *Runner) delay() time.Duration {
	if r.Delay <= 0 {
		return DefaultDelay
	}
	return r.Delay
}

func (r *Runner) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Run processes keys in batches of BatchSize, with at most MaxWorkers keys
// of one batch in flight at a time. Item failures are recorded on the run
// and do not stop it. onProgress, when non-nil, is invoked after every
// processed item. Cancelling ctx stops the run once in-flight items
// finish; the partial run is persisted with status cancelled and returned
// alongside the context error.
func (r *Runner) Run(ctx context.Context, op string, keys []string, fn ItemFunc, onProgress func(Progress)) (*models.BulkRun, error) {
	run := &models.BulkRun{
		Operation: op,
		Status:    models.BulkRunning,
		Total:     len(keys),
		StartedAt: time.Now().UTC(),
		Items:     make([]models.BulkItem, 0, len(keys)),
	}

	r.mu.Lock()
	if r.current != nil {
		cur := r.current.Operation
		r.mu.Unlock()
		return nil, fmt.Errorf("%s run already in progress", cur)
	}
	runCtx, stop := context.WithCancel(ctx)
	r.current = run
	r.stop = stop
	r.mu.Unlock()

	defer func() {
		stop()
		r.mu.Lock()
		r.current = nil
		r.stop = nil
		r.mu.Unlock()
	}()

	if r.Store != nil {
		if err := r.Store.CreateBulkRun(ctx, run); err != nil {
			return nil, fmt.Errorf("record bulk run: %w", err)
		}
	}

	batchSize := r.batchSize()
	batches := (len(keys) + batchSize - 1) / batchSize
	r.logger().Info("starting bulk run",
		zap.String("operation", op),
		zap.String("run_id", run.ID),
		zap.Int("total", len(keys)),
		zap.Int("batches", batches),
		zap.Int("workers", r.maxWorkers()),
	)

	record := func(item models.BulkItem) {
		r.mu.Lock()
		run.Items = append(run.Items, item)
		run.Processed++
		if item.Success {
			run.Succeeded++
		} else {
			run.Failed++
		}
		snap := snapshot(run)
		r.mu.Unlock()
		if onProgress != nil {
			onProgress(snap)
		}
	}

	cancelled := false
	for b := 0; b < batches; b++ {
		lo := b * batchSize
		hi := lo + batchSize
		if hi > len(keys) {
			hi = len(keys)
		}
		batch := keys[lo:hi]
		r.logger().Info("processing batch",
			zap.String("operation", op),
			zap.Int("batch", b+1),
			zap.Int("total_batches", batches),
			zap.Int("size", len(batch)),
		)

		g, gctx := errgroup.WithContext(runCtx)
		g.SetLimit(r.maxWorkers())
		for _, key := range batch {
			key := key
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				started := time.Now()
				err := fn(gctx, key)
				item := models.BulkItem{Key: key, Success: err == nil, Duration: time.Since(started)}
				if err != nil {
					item.Error = err.Error()
					r.logger().Warn("bulk item failed",
						zap.String("operation", op),
						zap.String("key", key),
						zap.Error(err),
					)
				}
				record(item)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			cancelled = true
			break
		}

		if b+1 < batches {
			if err := pause(runCtx, r.delay()); err != nil {
				cancelled = true
				break
			}
		}
	}

	// Cancellation during the last batch surfaces through item errors
	// rather than g.Wait, so check the run context directly.
	if runCtx.Err() != nil {
		cancelled = true
	}

	now := time.Now().UTC()
	r.mu.Lock()
	run.EndedAt = &now
	switch {
	case cancelled:
		run.Status = models.BulkCancelled
	case run.Failed == 0:
		run.Status = models.BulkCompleted
	default:
		run.Status = models.BulkCompletedWithFails
	}
	run.Recommendations = Recommendations(run)
	r.mu.Unlock()

	r.logger().Info("bulk run finished",
		zap.String("operation", op),
		zap.String("status", string(run.Status)),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Duration("elapsed", now.Sub(run.StartedAt)),
	)

	if r.Store != nil {
		// The outcome is recorded even when the run context is gone.
		persistCtx := ctx
		if persistCtx.Err() != nil {
			persistCtx = context.Background()
		}
		if err := r.Store.UpdateBulkRun(persistCtx, run); err != nil {
			return run, fmt.Errorf("persist bulk run: %w", err)
		}
	}

	if cancelled {
		return run, runCtx.Err()
	}
	return run, nil
}

// Current returns a snapshot of the in-flight run, if any.
func (r *Runner) Current() (Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Progress{}, false
	}
	return snapshot(r.current), true
}

// Cancel stops the in-flight run. A non-empty runID narrows the cancel to
// that specific run. It reports whether a run was cancelled.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || r.stop == nil {
		return false
	}
	if runID != "" && r.current.ID != runID {
		return false
	}
	r.stop()
	return true
}

// Estimate predicts the wall-clock duration of running op over n keys,
// including the delays between batches.
func (r *Runner) Estimate(op string, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	per, ok := perItemSeconds[op]
	if !ok {
		per = 1.0
	}
	d := time.Duration(per * float64(n) * float64(time.Second))
	batches := (n + r.batchSize() - 1) / r.batchSize()
	if batches > 1 {
		d += time.Duration(batches-1) * r.delay()
	}
	return d
}

// RetryFailed re-runs the failed keys of the latest stored run of op.
func (r *Runner) RetryFailed(ctx context.Context, op string, fn ItemFunc, onProgress func(Progress)) (*models.BulkRun, error) {
	if r.Store == nil {
		return nil, errors.New("bulk retry requires a store")
	}
	last, err := r.Store.LatestBulkRun(ctx, op)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no previous %s run to retry", op)
	}
	if err != nil {
		return nil, err
	}
	keys := last.FailedKeys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("latest %s run has no failed items", op)
	}
	r.logger().Info("retrying failed items",
		zap.String("operation", op),
		zap.String("run_id", last.ID),
		zap.Int("keys", len(keys)),
	)
	return r.Run(ctx, op, keys, fn, onProgress)
}

// Stats aggregates recent stored runs of one operation.
type Stats struct {
	Operation    string            `json:"operation"`
	Runs         int               `json:"runs"`
	TotalItems   int               `json:"total_items"`
	Succeeded    int               `json:"succeeded"`
	Failed       int               `json:"failed"`
	SuccessRate  float64           `json:"success_rate"`
	AverageItem  time.Duration     `json:"average_item_duration"`
	Failures     map[string]int    `json:"failure_breakdown,omitempty"`
	LatestStatus models.BulkStatus `json:"latest_status,omitempty"`
}

// Stats summarizes up to the last twenty stored runs of op.
func (r *Runner) Stats(ctx context.Context, op string) (*Stats, error) {
	if r.Store == nil {
		return nil, errors.New("bulk statistics require a store")
	}
	runs, err := r.Store.ListBulkRuns(ctx, op, statsWindow)
	if err != nil {
		return nil, err
	}

	st := &Stats{Operation: op, Runs: len(runs), Failures: make(map[string]int)}
	var itemTime time.Duration
	var items int
	for _, run := range runs {
		st.TotalItems += run.Processed
		st.Succeeded += run.Succeeded
		st.Failed += run.Failed
		for _, it := range run.Items {
			itemTime += it.Duration
			items++
			if !it.Success && it.Error != "" {
				st.Failures[it.Error]++
			}
		}
	}
	if st.TotalItems > 0 {
		st.SuccessRate = round2(float64(st.Succeeded) / float64(st.TotalItems) * 100)
	}
	if items > 0 {
		st.AverageItem = itemTime / time.Duration(items)
	}
	if len(runs) > 0 {
		st.LatestStatus = runs[0].Status
	}
	if len(st.Failures) == 0 {
		st.Failures = nil
	}
	return st, nil
}

// History returns stored runs of op, newest first.
func (r *Runner) History(ctx context.Context, op string, limit int) ([]*models.BulkRun, error) {
	if r.Store == nil {
		return nil, errors.New("bulk history requires a store")
	}
	return r.Store.ListBulkRuns(ctx, op, limit)
}

// Recommendations derives follow-up advice from a finished run.
func Recommendations(run *models.BulkRun) []string {
	if run.Processed == 0 {
		return nil
	}
	var recs []string
	switch rate := run.SuccessRate(); {
	case rate == 100:
		recs = append(recs, "✅ All operations completed successfully!")
	case rate >= 90:
		recs = append(recs, "✅ High success rate achieved")
		recs = append(recs, fmt.Sprintf("📋 Review %d failed operations for patterns", run.Failed))
	case rate >= 70:
		recs = append(recs, "⚠️ Moderate success rate - investigate common failure causes")
		recs = append(recs, fmt.Sprintf("🔄 Consider retrying %d failed operations", run.Failed))
	default:
		recs = append(recs, "❌ Low success rate - review configuration and prerequisites")
		recs = append(recs, "🔍 Check GitHub API limits and network connectivity")
	}
	if run.EndedAt != nil {
		avg := run.EndedAt.Sub(run.StartedAt) / time.Duration(run.Processed)
		if avg > 5*time.Second {
			recs = append(recs, "⚡ Consider increasing batch size or reducing delays for better performance")
		}
	}
	return recs
}

func snapshot(run *models.BulkRun) Progress {
	p := Progress{
		Operation: run.Operation,
		Total:     run.Total,
		Processed: run.Processed,
		Succeeded: run.Succeeded,
		Failed:    run.Failed,
		StartedAt: run.StartedAt,
		Status:    run.Status,
	}
	if run.Total > 0 {
		p.Percent = round2(float64(run.Processed) / float64(run.Total) * 100)
	}
	return p
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
