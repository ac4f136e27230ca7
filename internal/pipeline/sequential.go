package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupe-vauban/sirene-cli/internal/config"
	"github.com/groupe-vauban/sirene-cli/internal/matcher"
	"github.com/groupe-vauban/sirene-cli/internal/oracle"
	"github.com/groupe-vauban/sirene-cli/internal/sirene"
)

// RunSequential resolves the residual single-threaded, sharing the
// checkpoint, batching, and export path of the parallel driver. Useful
// for debugging a handful of rows with readable logs.
func RunSequential(ctx context.Context, cfg *config.Config) (*Stats, error) {
	ck, residual, err := prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer ck.Close()

	runID := uuid.NewString()[:8]
	zap.L().Info("sequential run starting",
		zap.String("run_id", runID), zap.Int("residual", len(residual)))

	store, err := sirene.Open(cfg.Registry)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	orc := oracle.New(cfg.Anthropic.Key, cfg.Anthropic.Model,
		time.Duration(cfg.Oracle.TimeoutSecs)*time.Second)
	m := matcher.New(store, orc)

	stats := &Stats{Total: len(residual)}
	start := time.Now()
	batch := cfg.Pipeline.BatchSize
	if batch <= 0 {
		batch = 100
	}

	for _, row := range residual {
		if ctx.Err() != nil {
			break
		}
		res, err := m.Match(ctx, row)
		record(ck, Outcome{InputID: row.InputID(), Result: res, Err: err}, stats)
		if stats.Done > 0 && stats.Done%batch == 0 {
			flush(ck, runID, stats, start)
		}
	}

	stats.Interrupted = ctx.Err() != nil
	flush(ck, runID, stats, start)
	export(cfg, ck, runID, stats)

	if stats.Interrupted {
		return stats, ErrInterrupted
	}
	return stats, nil
}
