package model

import "time"

// CanonicalProduct is the deduplicated, displayable identity for a product
// within one market. At most one row exists per (market_id, barcode); rows
// without a barcode are keyed by (market_id, tax_category, display_name)
// until a source discovers their GTIN.
type CanonicalProduct struct {
	ID          int64     `json:"id"`
	MarketID    string    `json:"market_id"`
	Barcode     string    `json:"barcode"`
	TaxCategory string    `json:"tax_category"`
	DisplayName string    `json:"display_name"`
	Unit        string    `json:"unit"`
	Price       float64   `json:"price"`
	SourceURL   string    `json:"source_url"`
	LastUpdated time.Time `json:"last_updated"`
}

// HasBarcode reports whether the row is keyed by a real GTIN.
func (c CanonicalProduct) HasBarcode() bool {
	return c.Barcode != "" && c.Barcode != NoBarcode && len(c.Barcode) >= 8
}
