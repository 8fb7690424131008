package store

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/appprecos/enrich-cli/internal/model"
)

// Store defines the persistence interface for the ingestion and enrichment
// pipeline. The backing database is treated as a plain table store: single
// inserts, updates, selects and deletes only, no multi-statement
// transactions (the ledger writer compensates instead).
type Store interface {
	// Markets
	EnsureMarket(ctx context.Context, name, address string) (*model.Market, string, error)
	GetMarket(ctx context.Context, marketID string) (*model.Market, error)

	// Purchase ledger
	InsertPurchaseLine(ctx context.Context, line model.PurchaseLine) (int64, error)
	DeletePurchaseLine(ctx context.Context, id int64) error
	ListPendingLines(ctx context.Context, maxAttempts, limit int) ([]model.PurchaseLine, error)
	MarkLineCompleted(ctx context.Context, id int64) error
	MarkLineFailed(ctx context.Context, id int64, errMsg string) error
	MarkLineBacklog(ctx context.Context, id int64, errMsg string) error

	// Canonical products
	CanonicalByBarcode(ctx context.Context, barcode string) (*model.CanonicalProduct, error)
	CanonicalByKey(ctx context.Context, marketID, barcode string) (*model.CanonicalProduct, error)
	CanonicalByName(ctx context.Context, marketID, taxCategory, displayName string) (*model.CanonicalProduct, error)
	CanonicalCandidates(ctx context.Context, taxCategory string, limit int) ([]model.CanonicalProduct, error)
	InsertCanonical(ctx context.Context, p model.CanonicalProduct) (int64, error)
	UpdateCanonical(ctx context.Context, id int64, p model.CanonicalProduct) error
	DeleteCanonical(ctx context.Context, id int64) error

	// Processing records
	CreateProcessingRecord(ctx context.Context, url string) (*model.ProcessingRecord, error)
	GetProcessingRecordByURL(ctx context.Context, url string) (*model.ProcessingRecord, error)
	ListRecordsInStatus(ctx context.Context, status model.RecordStatus) ([]model.ProcessingRecord, error)
	TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (bool, error)
	FinishRecord(ctx context.Context, id string, status model.RecordStatus, marketID string, productsCount int) error
	ReapStaleExtracting(ctx context.Context, cutoff time.Time) (int, error)

	// Lookup audit log
	RecordLookup(ctx context.Context, entry model.LookupAuditEntry) error
	LatestSuccessfulLookup(ctx context.Context, rawText, taxCategory string) (*model.LookupAuditEntry, error)

	// Backlog curation queue
	InsertBacklogItem(ctx context.Context, item model.BacklogItem) error
	ListBacklog(ctx context.Context, limit int) ([]model.BacklogItem, error)
	RequeueBacklogItem(ctx context.Context, id string) error

	// Stats
	EnrichmentCounts(ctx context.Context) (map[model.EnrichmentStatus]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const marketIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newMarketID generates a market code in the MKT + 8 chars format the
// mobile clients already expect.
func newMarketID() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = marketIDAlphabet[rand.IntN(len(marketIDAlphabet))]
	}
	return "MKT" + string(b)
}
