package canonical

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/appprecos/enrich-cli/internal/model"
)

// Store is the canonical-product slice of the storage layer.
type Store interface {
	CanonicalByKey(ctx context.Context, marketID, barcode string) (*model.CanonicalProduct, error)
	CanonicalByName(ctx context.Context, marketID, taxCategory, displayName string) (*model.CanonicalProduct, error)
	InsertCanonical(ctx context.Context, p model.CanonicalProduct) (int64, error)
	UpdateCanonical(ctx context.Context, id int64, p model.CanonicalProduct) error
}

// Upserter writes resolved products under the deterministic identity key.
// Rows with a real barcode are keyed by (market, barcode) so different
// spellings of the same physical product always collapse into one row.
// Barcode-less rows fall back to (market, taxCategory, displayName).
type Upserter struct {
	store Store
}

// New creates an Upserter.
func New(store Store) *Upserter {
	return &Upserter{store: store}
}

// Upsert inserts or updates the row for p's identity key and returns the
// stored row. When a later resolution discovers a barcode for a product
// previously stored without one, the existing row is promoted in place
// rather than duplicated.
func (u *Upserter) Upsert(ctx context.Context, p model.CanonicalProduct) (*model.CanonicalProduct, error) {
	if p.Barcode == "" {
		p.Barcode = model.NoBarcode
	}
	p.LastUpdated = time.Now().UTC()

	existing, err := u.findExisting(ctx, p)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		id, err := u.store.InsertCanonical(ctx, p)
		if err != nil {
			return nil, eris.Wrap(err, "canonical: insert")
		}
		p.ID = id
		zap.L().Debug("canonical product created",
			zap.String("market_id", p.MarketID),
			zap.String("barcode", p.Barcode),
			zap.String("name", p.DisplayName),
		)
		return &p, nil
	}

	if !existing.HasBarcode() && p.HasBarcode() {
		zap.L().Info("promoting canonical product to barcode identity",
			zap.String("market_id", p.MarketID),
			zap.String("barcode", p.Barcode),
			zap.String("name", existing.DisplayName),
		)
	}

	// Never downgrade a row that already carries a barcode.
	if !p.HasBarcode() && existing.HasBarcode() {
		p.Barcode = existing.Barcode
	}

	p.ID = existing.ID
	if err := u.store.UpdateCanonical(ctx, existing.ID, p); err != nil {
		return nil, eris.Wrap(err, "canonical: update")
	}
	return &p, nil
}

// findExisting locates the row p would collide with, if any.
func (u *Upserter) findExisting(ctx context.Context, p model.CanonicalProduct) (*model.CanonicalProduct, error) {
	if p.HasBarcode() {
		existing, err := u.store.CanonicalByKey(ctx, p.MarketID, p.Barcode)
		if err != nil {
			return nil, eris.Wrap(err, "canonical: lookup by key")
		}
		if existing != nil {
			return existing, nil
		}
		// A row stored before the barcode was known gets promoted.
		byName, err := u.store.CanonicalByName(ctx, p.MarketID, p.TaxCategory, p.DisplayName)
		if err != nil {
			return nil, eris.Wrap(err, "canonical: lookup by name")
		}
		if byName != nil && !byName.HasBarcode() {
			return byName, nil
		}
		return nil, nil
	}

	existing, err := u.store.CanonicalByName(ctx, p.MarketID, p.TaxCategory, p.DisplayName)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: lookup by name")
	}
	return existing, nil
}
