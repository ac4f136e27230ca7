package websearch

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/groupe-vauban/sirene-cli/internal/config"
	"github.com/groupe-vauban/sirene-cli/internal/model"
	"github.com/groupe-vauban/sirene-cli/internal/report"
)

// Run searches every foreign row with a worker pool, producing unified
// report records: WEB_SEARCH rows for findings, error rows otherwise.
// A shared limiter spreads requests evenly across workers.
func Run(ctx context.Context, cfg config.WebSearchConfig, provider Provider, rows []model.Raw) []report.Record {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 10
	}
	var limiter *rate.Limiter
	if cfg.RateLimitSecs > 0 {
		limiter = rate.NewLimiter(rate.Limit(1/cfg.RateLimitSecs), 1)
	}

	zap.L().Info("web search starting",
		zap.Int("rows", len(rows)), zap.Int("workers", workers))

	records := make([]report.Record, len(rows))
	var done int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range rows {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					records[i] = errorRecord(rows[i], err)
					return nil
				}
			}
			finding, err := provider.Search(gctx, rows[i])
			if err != nil {
				records[i] = errorRecord(rows[i], err)
			} else {
				records[i] = findingRecord(rows[i], finding)
			}
			mu.Lock()
			done++
			if done%25 == 0 {
				zap.L().Info("web search progress",
					zap.Int64("done", done), zap.Int("total", len(rows)))
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// Rows never dispatched (cancellation) still need a record.
	for i := range records {
		if records[i].InputID == "" {
			records[i] = errorRecord(rows[i], context.Canceled)
		}
	}
	return records
}

func baseRecord(raw model.Raw) report.Record {
	return report.Record{
		InputID:    raw.InputID(),
		Country:    raw.String(model.ColCountry),
		City:       raw.String(model.ColCity),
		PostalCode: raw.String(model.ColPostal),
	}
}

func findingRecord(raw model.Raw, f Finding) report.Record {
	rec := baseRecord(raw)
	rec.MatchMethod = model.MethodWebSearch
	rec.Confidence = strconv.FormatFloat(f.Confidence, 'f', -1, 64)
	rec.FoundWebsite = f.Website
	rec.FoundAddress = f.Address
	rec.FoundPhone = f.Phone
	rec.FoundEmail = f.Email
	rec.SearchMethod = f.SearchMethod
	return rec
}

func errorRecord(raw model.Raw, err error) report.Record {
	rec := baseRecord(raw)
	rec.MatchMethod = "ERROR"
	rec.Error = err.Error()
	return rec
}

// NewProviderFromConfig wires the provider from the application config.
func NewProviderFromConfig(cfg *config.Config) Provider {
	return NewProvider(cfg.Anthropic.Key, cfg.Anthropic.Model,
		time.Duration(cfg.WebSearch.TimeoutSecs)*time.Second)
}
