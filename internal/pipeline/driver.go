// Package pipeline drives supplier resolution end to end: load the
// input table, skip already-checkpointed rows, resolve the residual,
// commit outcomes in batches, and export the unified report.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/groupe-vauban/sirene-cli/internal/checkpoint"
	"github.com/groupe-vauban/sirene-cli/internal/config"
	"github.com/groupe-vauban/sirene-cli/internal/fetcher"
	"github.com/groupe-vauban/sirene-cli/internal/matcher"
	"github.com/groupe-vauban/sirene-cli/internal/model"
	"github.com/groupe-vauban/sirene-cli/internal/oracle"
	"github.com/groupe-vauban/sirene-cli/internal/report"
	"github.com/groupe-vauban/sirene-cli/internal/sirene"
)

// ErrInterrupted reports that the run stopped on cancellation after
// flushing its state. Callers map it to exit code 130.
var ErrInterrupted = errors.New("pipeline: interrupted")

// Stats summarizes one run.
type Stats struct {
	Total       int
	Done        int
	Failed      int
	Interrupted bool
}

// Outcome is one worker's verdict for one row.
type Outcome struct {
	InputID string
	Result  model.MatchResult
	Err     error
}

// Run resolves the supplier table with a pool of workers. Each worker
// holds its own registry handle and oracle instance; the driver alone
// touches the checkpoint.
func Run(ctx context.Context, cfg *config.Config) (*Stats, error) {
	ck, residual, err := prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer ck.Close()

	runID := uuid.NewString()[:8]
	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	zap.L().Info("parallel run starting",
		zap.String("run_id", runID),
		zap.Int("residual", len(residual)),
		zap.Int("workers", workers))

	var limiter *rate.Limiter
	if cfg.Pipeline.OracleRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Pipeline.OracleRatePerSec), 1)
	}

	tasks := make(chan model.Raw)
	outcomes := make(chan Outcome, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(tasks)
		for _, row := range residual {
			select {
			case tasks <- row:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			store, err := sirene.Open(cfg.Registry)
			if err != nil {
				return eris.Wrap(err, "pipeline: open registry")
			}
			defer store.Close()
			orc := oracle.New(cfg.Anthropic.Key, cfg.Anthropic.Model,
				time.Duration(cfg.Oracle.TimeoutSecs)*time.Second)
			m := matcher.New(store, orc)

			for row := range tasks {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return nil
					}
				}
				res, err := m.Match(gctx, row)
				select {
				case outcomes <- Outcome{InputID: row.InputID(), Result: res, Err: err}:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- g.Wait()
		close(outcomes)
	}()

	stats := integrate(ctx, cfg, ck, runID, len(residual), outcomes)

	if err := <-workerErr; err != nil && !stats.Interrupted {
		// A worker failed fatally (registry unavailable). The partial
		// state is already committed and exported.
		return stats, err
	}
	if stats.Interrupted {
		return stats, ErrInterrupted
	}
	return stats, nil
}

// prepare loads the table, opens the checkpoint, and computes the
// residual rows to process: unprocessed ids first, then the row limit.
func prepare(ctx context.Context, cfg *config.Config) (*checkpoint.Store, []model.Raw, error) {
	rows, err := fetcher.Load(cfg.Pipeline.SupplierFile)
	if err != nil {
		return nil, nil, err
	}

	ck, err := checkpoint.Open(cfg.Pipeline.CheckpointPath)
	if err != nil {
		return nil, nil, err
	}

	processed, err := ck.ProcessedIDs(ctx, !cfg.Pipeline.RetryErrors)
	if err != nil {
		ck.Close()
		return nil, nil, err
	}

	residual := make([]model.Raw, 0, len(rows))
	for _, row := range rows {
		if _, done := processed[row.InputID()]; done {
			continue
		}
		residual = append(residual, row)
	}
	if cfg.Pipeline.LimitRows > 0 && len(residual) > cfg.Pipeline.LimitRows {
		residual = residual[:cfg.Pipeline.LimitRows]
	}

	zap.L().Info("checkpoint loaded",
		zap.String("path", ck.Path()),
		zap.Int("rows", len(rows)),
		zap.Int("already_processed", len(processed)),
		zap.Int("residual", len(residual)))
	return ck, residual, nil
}

// integrate folds outcomes into the checkpoint, committing every
// batch. On cancellation it keeps draining in-flight rows for a
// bounded grace period, then flushes and exports whatever it has.
func integrate(ctx context.Context, cfg *config.Config, ck *checkpoint.Store, runID string, total int, outcomes <-chan Outcome) *Stats {
	stats := &Stats{Total: total}
	start := time.Now()
	batch := cfg.Pipeline.BatchSize
	if batch <= 0 {
		batch = 100
	}
	grace := time.Duration(cfg.Pipeline.GraceSecs) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}

	// The grace timer goroutine is bound to integrate's lifetime so an
	// uncancelled run does not leave it parked on ctx.Done forever.
	done := make(chan struct{})
	defer close(done)
	graceExpired := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		select {
		case <-time.After(grace):
			close(graceExpired)
		case <-done:
		}
	}()

loop:
	for {
		select {
		case out, ok := <-outcomes:
			if !ok {
				break loop
			}
			record(ck, out, stats)
			if stats.Done > 0 && stats.Done%batch == 0 {
				flush(ck, runID, stats, start)
			}
		case <-graceExpired:
			zap.L().Warn("drain grace elapsed, abandoning in-flight rows",
				zap.String("run_id", runID))
			break loop
		}
	}

	stats.Interrupted = ctx.Err() != nil
	flush(ck, runID, stats, start)
	export(cfg, ck, runID, stats)
	return stats
}

func record(ck *checkpoint.Store, out Outcome, stats *Stats) {
	if out.Err != nil {
		if errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded) {
			return
		}
		stats.Done++
		stats.Failed++
		if err := ck.UpsertError(out.InputID, out.Err.Error()); err != nil {
			zap.L().Error("checkpoint error upsert failed",
				zap.String("input_id", out.InputID), zap.Error(err))
		}
		return
	}
	stats.Done++
	if err := ck.UpsertResult(out.Result); err != nil {
		zap.L().Error("checkpoint upsert failed",
			zap.String("input_id", out.Result.InputID), zap.Error(err))
	}
}

func flush(ck *checkpoint.Store, runID string, stats *Stats, start time.Time) {
	if err := ck.Commit(); err != nil {
		zap.L().Error("checkpoint commit failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 || stats.Done == 0 {
		return
	}
	perSec := float64(stats.Done) / elapsed
	eta := time.Duration(float64(stats.Total-stats.Done) / perSec * float64(time.Second))
	zap.L().Info("progress",
		zap.String("run_id", runID),
		zap.Int("done", stats.Done),
		zap.Int("total", stats.Total),
		zap.Float64("rate_per_sec", perSec),
		zap.Duration("eta", eta.Round(time.Second)))
}

// export writes the unified report from the full checkpoint, earlier
// runs included. A fresh context keeps the export alive after a
// cancelled run context.
func export(cfg *config.Config, ck *checkpoint.Store, runID string, stats *Stats) {
	rows, err := ck.Rows(context.Background())
	if err != nil {
		zap.L().Error("checkpoint read failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	if err := report.Write(cfg.Pipeline.OutputCSV, report.FromCheckpoint(rows)); err != nil {
		zap.L().Error("report export failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	zap.L().Info("report exported",
		zap.String("run_id", runID),
		zap.String("path", cfg.Pipeline.OutputCSV),
		zap.Int("rows", len(rows)),
		zap.Int("done", stats.Done),
		zap.Int("failed", stats.Failed))
}
