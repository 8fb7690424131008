package model

import "time"

// RecordStatus is the lifecycle of one extraction job.
type RecordStatus string

const (
	RecordProcessing RecordStatus = "processing"
	RecordExtracting RecordStatus = "extracting"
	RecordSuccess    RecordStatus = "success"
	RecordError      RecordStatus = "error"
)

// ProcessingRecord tracks one source document through extraction. The
// extraction coordinator guarantees that at most one record is in the
// extracting state at any instant across all worker processes.
type ProcessingRecord struct {
	ID            string       `json:"id"`
	URL           string       `json:"url"`
	MarketID      string       `json:"market_id"`
	ProductsCount int          `json:"products_count"`
	Status        RecordStatus `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
}
