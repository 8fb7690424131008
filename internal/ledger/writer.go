package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/appprecos/enrich-cli/internal/model"
)

// Store is the slice of the storage layer the writer needs. The backing
// store offers no multi-statement transactions, so atomicity is approximated
// with an explicit undo log.
type Store interface {
	InsertPurchaseLine(ctx context.Context, line model.PurchaseLine) (int64, error)
	DeletePurchaseLine(ctx context.Context, id int64) error
	CanonicalByKey(ctx context.Context, marketID, barcode string) (*model.CanonicalProduct, error)
	InsertCanonical(ctx context.Context, p model.CanonicalProduct) (int64, error)
	UpdateCanonical(ctx context.Context, id int64, p model.CanonicalProduct) error
	DeleteCanonical(ctx context.Context, id int64) error
}

// BatchWriteError reports a failed batch after rollback.
type BatchWriteError struct {
	Failed     int // zero-based index of the item that failed
	RolledBack int // rows removed by the compensating rollback
	Err        error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("ledger: batch write failed at item %d, rolled back %d rows: %v", e.Failed, e.RolledBack, e.Err)
}

func (e *BatchWriteError) Unwrap() error { return e.Err }

// Writer persists raw line item batches all-or-nothing. Each insert is
// tracked; the first failure triggers a compensating rollback that deletes
// the rows inserted so far and restores the pre-image of any canonical row
// touched along the way.
type Writer struct {
	store Store
}

// NewWriter creates a ledger writer.
func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// undoLog tracks everything one WriteBatch call changed.
type undoLog struct {
	insertedLines     []int64
	insertedCanonical []int64
	updatedCanonical  []model.CanonicalProduct // pre-images, captured before write
}

// WriteBatch inserts one row per item and seeds a canonical price row for
// every item that carries a barcode. Returns the number of ledger rows
// written. On any failure the whole batch is undone and a *BatchWriteError
// is returned.
func (w *Writer) WriteBatch(ctx context.Context, marketID string, items []model.LineItem, sourceURL string, purchaseDate time.Time) (int, error) {
	if purchaseDate.IsZero() {
		purchaseDate = time.Now().UTC()
	}

	var undo undoLog
	for i, item := range items {
		line := model.PurchaseLine{
			MarketID:     marketID,
			Barcode:      normalizeBarcode(item.Barcode),
			TaxCategory:  item.TaxCategory,
			RawText:      item.RawText,
			Quantity:     item.Quantity,
			Unit:         item.Unit,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
			SourceURL:    sourceURL,
			PurchaseDate: purchaseDate,
			Status:       model.EnrichmentPending,
		}
		id, err := w.store.InsertPurchaseLine(ctx, line)
		if err != nil {
			rolledBack := w.rollback(ctx, undo)
			return 0, &BatchWriteError{Failed: i, RolledBack: rolledBack, Err: err}
		}
		undo.insertedLines = append(undo.insertedLines, id)

		if line.HasBarcode() {
			if err := w.seedCanonicalPrice(ctx, line, &undo); err != nil {
				rolledBack := w.rollback(ctx, undo)
				return 0, &BatchWriteError{Failed: i, RolledBack: rolledBack, Err: err}
			}
		}
	}

	zap.L().Info("ledger batch written",
		zap.String("market_id", marketID),
		zap.String("source_url", sourceURL),
		zap.Int("rows", len(undo.insertedLines)),
	)
	return len(undo.insertedLines), nil
}

// seedCanonicalPrice refreshes the price of an already-known product or
// stages a raw-named row for one seen for the first time. The enrichment
// worker later replaces raw names with resolved ones. Pre-images are
// captured before any write so rollback can restore them byte for byte.
func (w *Writer) seedCanonicalPrice(ctx context.Context, line model.PurchaseLine, undo *undoLog) error {
	existing, err := w.store.CanonicalByKey(ctx, line.MarketID, line.Barcode)
	if err != nil {
		return eris.Wrap(err, "ledger: canonical pre-image lookup")
	}

	if existing != nil {
		undo.updatedCanonical = append(undo.updatedCanonical, *existing)
		updated := *existing
		updated.Price = line.UnitPrice
		updated.SourceURL = line.SourceURL
		updated.LastUpdated = time.Now().UTC()
		if err := w.store.UpdateCanonical(ctx, existing.ID, updated); err != nil {
			return eris.Wrap(err, "ledger: refresh canonical price")
		}
		return nil
	}

	id, err := w.store.InsertCanonical(ctx, model.CanonicalProduct{
		MarketID:    line.MarketID,
		Barcode:     line.Barcode,
		TaxCategory: line.TaxCategory,
		DisplayName: line.RawText,
		Unit:        line.Unit,
		Price:       line.UnitPrice,
		SourceURL:   line.SourceURL,
		LastUpdated: time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "ledger: seed canonical row")
	}
	undo.insertedCanonical = append(undo.insertedCanonical, id)
	return nil
}

// rollback undoes the batch in reverse order: restore canonical pre-images,
// drop canonical rows this call created, then drop the ledger rows. Each
// undo operation is attempted even if an earlier one fails; failures are
// logged because there is nothing better to do with them mid-rollback.
func (w *Writer) rollback(ctx context.Context, undo undoLog) int {
	for i := len(undo.updatedCanonical) - 1; i >= 0; i-- {
		pre := undo.updatedCanonical[i]
		if err := w.store.UpdateCanonical(ctx, pre.ID, pre); err != nil {
			zap.L().Error("rollback: restore canonical pre-image failed",
				zap.Int64("id", pre.ID),
				zap.Error(err),
			)
		}
	}
	for i := len(undo.insertedCanonical) - 1; i >= 0; i-- {
		if err := w.store.DeleteCanonical(ctx, undo.insertedCanonical[i]); err != nil {
			zap.L().Error("rollback: delete canonical row failed",
				zap.Int64("id", undo.insertedCanonical[i]),
				zap.Error(err),
			)
		}
	}
	rolledBack := 0
	for i := len(undo.insertedLines) - 1; i >= 0; i-- {
		if err := w.store.DeletePurchaseLine(ctx, undo.insertedLines[i]); err != nil {
			zap.L().Error("rollback: delete purchase line failed",
				zap.Int64("id", undo.insertedLines[i]),
				zap.Error(err),
			)
			continue
		}
		rolledBack++
	}
	return rolledBack
}

// normalizeBarcode maps the various "no barcode" spellings coming from the
// extractor onto the single stored sentinel.
func normalizeBarcode(barcode string) string {
	switch barcode {
	case "", "none", model.NoBarcode:
		return model.NoBarcode
	default:
		return barcode
	}
}
