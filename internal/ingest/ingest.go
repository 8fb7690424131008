package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/appprecos/enrich-cli/internal/model"
)

// ErrAlreadyProcessed means the URL was ingested before; receipts are only
// ever processed once.
var ErrAlreadyProcessed = eris.New("ingest: url already processed")

// ErrLockTimeout means no extraction slot opened up within the wait budget.
var ErrLockTimeout = eris.New("ingest: extraction lock wait timed out")

// Store is the record and market slice of the storage layer.
type Store interface {
	GetProcessingRecordByURL(ctx context.Context, url string) (*model.ProcessingRecord, error)
	CreateProcessingRecord(ctx context.Context, url string) (*model.ProcessingRecord, error)
	TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (bool, error)
	FinishRecord(ctx context.Context, id string, status model.RecordStatus, marketID string, productsCount int) error
	EnsureMarket(ctx context.Context, name, address string) (*model.Market, string, error)
}

// Ledger persists extracted line items, satisfied by *ledger.Writer.
type Ledger interface {
	WriteBatch(ctx context.Context, marketID string, items []model.LineItem, sourceURL string, purchaseDate time.Time) (int, error)
}

// Locker guards the extraction step, satisfied by *lock.Coordinator.
type Locker interface {
	Acquire(ctx context.Context, recordID string, maxWait time.Duration) (bool, error)
	Release(ctx context.Context, recordID string, final model.RecordStatus) error
}

// Result reports one completed ingestion.
type Result struct {
	Record        *model.ProcessingRecord
	Market        *model.Market
	MarketOutcome string // "created" or "matched"
	SavedCount    int
}

// Ingestor runs the full receipt pipeline for one URL: dedupe, lock,
// extract, persist.
type Ingestor struct {
	store     Store
	ledger    Ledger
	locker    Locker
	extractor Extractor
}

// New creates an ingestor.
func New(store Store, ledger Ledger, locker Locker, extractor Extractor) *Ingestor {
	return &Ingestor{store: store, ledger: ledger, locker: locker, extractor: extractor}
}

// Ingest processes one receipt URL. The extraction step runs under the
// cross-process lock; everything after extraction releases the lock as part
// of settling the record's final status.
func (i *Ingestor) Ingest(ctx context.Context, url string) (*Result, error) {
	record, err := i.claimRecord(ctx, url)
	if err != nil {
		return nil, err
	}

	acquired, err := i.locker.Acquire(ctx, record.ID, 0)
	if err != nil {
		return nil, err
	}
	if !acquired {
		if ferr := i.store.FinishRecord(ctx, record.ID, model.RecordError, "", 0); ferr != nil {
			zap.L().Error("failed to mark record after lock timeout", zap.String("record_id", record.ID), zap.Error(ferr))
		}
		return nil, eris.Wrapf(ErrLockTimeout, "url %s", url)
	}

	receipt, err := i.extractor.Extract(ctx, url)
	if err != nil {
		i.releaseWithError(ctx, record.ID)
		return nil, eris.Wrapf(err, "ingest: extract %s", url)
	}

	market, marketOutcome, err := i.store.EnsureMarket(ctx, receipt.MarketName, receipt.MarketAddress)
	if err != nil {
		i.releaseWithError(ctx, record.ID)
		return nil, err
	}

	saved, err := i.ledger.WriteBatch(ctx, market.MarketID, receipt.Items, url, receipt.PurchaseDate)
	if err != nil {
		i.releaseWithError(ctx, record.ID)
		return nil, err
	}

	// The conditional transition is the lock release. A record the stale
	// sweep already reaped must not be flipped back to success.
	moved, err := i.store.TransitionRecord(ctx, record.ID, model.RecordExtracting, model.RecordSuccess)
	if err != nil {
		return nil, err
	}
	if !moved {
		zap.L().Warn("record no longer extracting at finish, likely reaped as stale",
			zap.String("record_id", record.ID),
			zap.String("url", url),
		)
	} else if err := i.store.FinishRecord(ctx, record.ID, model.RecordSuccess, market.MarketID, saved); err != nil {
		return nil, err
	}

	zap.L().Info("receipt ingested",
		zap.String("url", url),
		zap.String("market_id", market.MarketID),
		zap.String("market_outcome", marketOutcome),
		zap.Int("lines", saved),
	)
	return &Result{Record: record, Market: market, MarketOutcome: marketOutcome, SavedCount: saved}, nil
}

// claimRecord creates the processing record for the URL, or revives a
// previously failed one. Any other existing record means the URL was
// already handled.
func (i *Ingestor) claimRecord(ctx context.Context, url string) (*model.ProcessingRecord, error) {
	existing, err := i.store.GetProcessingRecordByURL(ctx, url)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return i.store.CreateProcessingRecord(ctx, url)
	}

	if existing.Status != model.RecordError {
		return nil, eris.Wrapf(ErrAlreadyProcessed, "url %s is %s", url, existing.Status)
	}

	// A failed record may be retried, but only one retrier gets it.
	revived, err := i.store.TransitionRecord(ctx, existing.ID, model.RecordError, model.RecordProcessing)
	if err != nil {
		return nil, err
	}
	if !revived {
		return nil, eris.Wrapf(ErrAlreadyProcessed, "url %s was claimed concurrently", url)
	}
	existing.Status = model.RecordProcessing
	return existing, nil
}

func (i *Ingestor) releaseWithError(ctx context.Context, recordID string) {
	if err := i.locker.Release(ctx, recordID, model.RecordError); err != nil {
		zap.L().Error("failed to release extraction lock", zap.String("record_id", recordID), zap.Error(err))
	}
}
