package worker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/appprecos/enrich-cli/internal/model"
	"github.com/appprecos/enrich-cli/internal/resolver"
)

// Store is the ledger slice of the storage layer the worker drives.
type Store interface {
	ListPendingLines(ctx context.Context, maxAttempts, limit int) ([]model.PurchaseLine, error)
	MarkLineCompleted(ctx context.Context, id int64) error
	MarkLineFailed(ctx context.Context, id int64, errMsg string) error
	MarkLineBacklog(ctx context.Context, id int64, errMsg string) error
	InsertBacklogItem(ctx context.Context, item model.BacklogItem) error
}

// IdentityResolver resolves one raw line, satisfied by *resolver.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, line model.PurchaseLine) (resolver.Outcome, error)
}

// Upserter writes resolved identities, satisfied by *canonical.Upserter.
type Upserter interface {
	Upsert(ctx context.Context, p model.CanonicalProduct) (*model.CanonicalProduct, error)
}

// Config holds the batch job parameters.
type Config struct {
	BatchSize   int
	Sleep       time.Duration // between batches
	MaxAttempts int           // failed lines beyond this go to the backlog
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{BatchSize: 10, Sleep: 5 * time.Second, MaxAttempts: 5}
}

// Summary reports what one run did.
type Summary struct {
	Processed   int
	Completed   int
	Failed      int
	Backlogged  int
	RateLimited bool
}

// Worker is the one-shot enrichment batch job. It drains pending ledger rows
// through the resolver strictly sequentially, so earlier items in a batch
// are visible to the local-reuse steps for later ones and resolver calls
// never race over the credential pool.
type Worker struct {
	store    Store
	resolver IdentityResolver
	upserter Upserter
	cfg      Config

	sleep func(time.Duration) // injectable for tests
}

// New creates an enrichment worker.
func New(store Store, res IdentityResolver, up Upserter, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Worker{store: store, resolver: res, upserter: up, cfg: cfg, sleep: time.Sleep}
}

// Run processes batches until a poll comes back empty. When the credential
// pool is exhausted the whole run stops at once: remaining items must not be
// misclassified as unmatched just because quota ran out.
func (w *Worker) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	for {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "worker: run canceled")
		}

		lines, err := w.store.ListPendingLines(ctx, w.cfg.MaxAttempts, w.cfg.BatchSize)
		if err != nil {
			return summary, eris.Wrap(err, "worker: poll pending lines")
		}
		if len(lines) == 0 {
			zap.L().Info("enrichment run finished",
				zap.Int("processed", summary.Processed),
				zap.Int("completed", summary.Completed),
				zap.Int("failed", summary.Failed),
				zap.Int("backlogged", summary.Backlogged),
			)
			return summary, nil
		}

		zap.L().Info("processing enrichment batch", zap.Int("size", len(lines)))
		for i, line := range lines {
			stop, err := w.processLine(ctx, line, summary)
			if err != nil {
				return summary, err
			}
			if stop {
				zap.L().Warn("credential pool exhausted, aborting run",
					zap.Int("processed", summary.Processed),
					zap.Int("unprocessed_in_batch", len(lines)-i),
				)
				summary.RateLimited = true
				return summary, nil
			}
		}

		if w.cfg.Sleep > 0 {
			w.sleep(w.cfg.Sleep)
		}
	}
}

// processLine runs one item through resolve and upsert. Returns stop=true on
// quota exhaustion.
func (w *Worker) processLine(ctx context.Context, line model.PurchaseLine, summary *Summary) (bool, error) {
	outcome, err := w.resolver.Resolve(ctx, line)
	if err != nil {
		w.markFailed(ctx, line, err.Error())
		summary.Processed++
		summary.Failed++
		return false, nil
	}

	switch outcome.Kind {
	case resolver.KindRateLimited:
		// Not counted as processed; the line stays pending for the next run.
		return true, nil

	case resolver.KindBacklog:
		w.moveToBacklog(ctx, line, "no source could resolve this item")
		summary.Processed++
		summary.Backlogged++
		return false, nil

	case resolver.KindResolved:
		barcode := outcome.Barcode
		if barcode == "" {
			barcode = line.Barcode
		}
		_, err := w.upserter.Upsert(ctx, model.CanonicalProduct{
			MarketID:    line.MarketID,
			Barcode:     barcode,
			TaxCategory: line.TaxCategory,
			DisplayName: outcome.Name,
			Unit:        line.Unit,
			Price:       line.UnitPrice,
			SourceURL:   line.SourceURL,
		})
		if err != nil {
			w.markFailed(ctx, line, err.Error())
			summary.Processed++
			summary.Failed++
			return false, nil
		}
		if err := w.store.MarkLineCompleted(ctx, line.ID); err != nil {
			return false, eris.Wrapf(err, "worker: mark line %d completed", line.ID)
		}
		zap.L().Debug("line enriched",
			zap.Int64("line_id", line.ID),
			zap.String("name", outcome.Name),
			zap.String("source", string(outcome.Source)),
		)
		summary.Processed++
		summary.Completed++
		return false, nil
	}

	return false, eris.Errorf("worker: unexpected resolver outcome %d", outcome.Kind)
}

// markFailed increments the attempt counter; a line that used up its retry
// budget is parked in the backlog instead of being retried forever.
func (w *Worker) markFailed(ctx context.Context, line model.PurchaseLine, reason string) {
	if line.Attempts+1 >= w.cfg.MaxAttempts {
		w.moveToBacklog(ctx, line, "retry budget exhausted: "+reason)
		return
	}
	if err := w.store.MarkLineFailed(ctx, line.ID, reason); err != nil {
		zap.L().Error("failed to mark line failed", zap.Int64("line_id", line.ID), zap.Error(err))
	}
}

// moveToBacklog parks a line in the terminal curation queue.
func (w *Worker) moveToBacklog(ctx context.Context, line model.PurchaseLine, reason string) {
	if err := w.store.MarkLineBacklog(ctx, line.ID, reason); err != nil {
		zap.L().Error("failed to mark line backlog", zap.Int64("line_id", line.ID), zap.Error(err))
		return
	}
	item := model.BacklogItem{
		PurchaseLineID: line.ID,
		MarketID:       line.MarketID,
		RawText:        line.RawText,
		TaxCategory:    line.TaxCategory,
		Barcode:        line.Barcode,
		Reason:         reason,
	}
	if err := w.store.InsertBacklogItem(ctx, item); err != nil {
		zap.L().Error("failed to insert backlog item", zap.Int64("line_id", line.ID), zap.Error(err))
	}
}
