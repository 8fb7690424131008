package model

import "time"

// NoBarcode is the sentinel stored when a receipt line carries no GTIN.
// It matches the marker printed on Brazilian NFC-e receipts.
const NoBarcode = "SEM GTIN"

// EnrichmentStatus tracks a purchase line through the enrichment pipeline.
type EnrichmentStatus string

const (
	EnrichmentPending   EnrichmentStatus = "pending"
	EnrichmentCompleted EnrichmentStatus = "completed"
	EnrichmentFailed    EnrichmentStatus = "failed"
	EnrichmentBacklog   EnrichmentStatus = "backlog"
)

// PurchaseLine is one raw receipt line item, immutable once written except
// for the enrichment fields, which only the enrichment worker updates.
type PurchaseLine struct {
	ID              int64            `json:"id"`
	MarketID        string           `json:"market_id"`
	Barcode         string           `json:"barcode"`
	TaxCategory     string           `json:"tax_category"`
	RawText         string           `json:"raw_text"`
	Quantity        float64          `json:"quantity"`
	Unit            string           `json:"unit"`
	UnitPrice       float64          `json:"unit_price"`
	TotalPrice      float64          `json:"total_price"`
	SourceURL       string           `json:"source_url"`
	PurchaseDate    time.Time        `json:"purchase_date"`
	Enriched        bool             `json:"enriched"`
	Status          EnrichmentStatus `json:"enrichment_status"`
	EnrichmentError string           `json:"enrichment_error,omitempty"`
	Attempts        int              `json:"attempts"`
}

// HasBarcode reports whether the line carries a usable GTIN. Receipts mark
// barcode-less items with "SEM GTIN"; anything shorter than 8 digits is noise.
func (p PurchaseLine) HasBarcode() bool {
	return p.Barcode != "" && p.Barcode != NoBarcode && len(p.Barcode) >= 8
}

// LineItem is the ingress shape handed to the ledger writer by the
// extraction collaborator.
type LineItem struct {
	Barcode     string  `json:"barcode"`
	TaxCategory string  `json:"tax_category"`
	RawText     string  `json:"raw_text"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

// Market is a physical store identified by a generated MKT code.
type Market struct {
	ID       int64  `json:"id"`
	MarketID string `json:"market_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
}
