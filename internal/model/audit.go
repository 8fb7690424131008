package model

import "time"

// LookupSource identifies which resolver step produced an outcome.
type LookupSource string

const (
	SourceRegistry      LookupSource = "registry"
	SourceAuditReuse    LookupSource = "audit_reuse"
	SourceCosmos        LookupSource = "cosmos"
	SourceFuzzySearch   LookupSource = "fuzzy_search"
	SourceOpenFoodFacts LookupSource = "open_food_facts"
	SourceGenerative    LookupSource = "generative"
	// SourceNone marks the terminal entry written when every step missed.
	SourceNone LookupSource = "none"
)

// LookupAuditEntry is an append-only record of one resolution attempt.
// Later resolutions replay successful entries for barcode-less items that
// share the same raw text and tax category.
type LookupAuditEntry struct {
	ID            string       `json:"id"`
	MarketID      string       `json:"market_id"`
	SourceURL     string       `json:"source_url"`
	RawText       string       `json:"raw_text"`
	TaxCategory   string       `json:"tax_category"`
	Barcode       string       `json:"barcode"`
	CanonicalName string       `json:"canonical_name"`
	Source        LookupSource `json:"source"`
	Success       bool         `json:"success"`
	Error         string       `json:"error,omitempty"`
	DurationMS    int64        `json:"duration_ms"`
	CreatedAt     time.Time    `json:"created_at"`
}

// BacklogItem is the terminal record for a purchase line no source could
// resolve. Items sit in the curation queue until retried by hand.
type BacklogItem struct {
	ID             string    `json:"id"`
	PurchaseLineID int64     `json:"purchase_line_id"`
	MarketID       string    `json:"market_id"`
	RawText        string    `json:"raw_text"`
	TaxCategory    string    `json:"tax_category"`
	Barcode        string    `json:"barcode"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}
