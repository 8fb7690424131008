package ingest

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/appprecos/enrich-cli/internal/model"
)

// Receipt is the extraction output for one receipt document.
type Receipt struct {
	MarketName    string           `json:"market_name"`
	MarketAddress string           `json:"market_address"`
	PurchaseDate  time.Time        `json:"purchase_date"`
	Items         []model.LineItem `json:"items"`
}

// Extractor turns a receipt URL into structured line items. The real
// implementation drives browser automation against the revenue service
// portal; it is a collaborator external to this repository.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Receipt, error)
}

// FileExtractor reads pre-extracted receipt JSON from disk. Used for
// replaying captured receipts and in tests; the scraper dumps its output in
// this format.
type FileExtractor struct{}

// Extract loads the receipt JSON at the given path. A file:// prefix is
// stripped so captured URLs work unchanged.
func (FileExtractor) Extract(_ context.Context, url string) (*Receipt, error) {
	path := strings.TrimPrefix(url, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read receipt file %s", path)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse receipt file %s", path)
	}
	if r.MarketName == "" {
		return nil, eris.Errorf("ingest: receipt file %s has no market name", path)
	}
	if len(r.Items) == 0 {
		return nil, eris.Errorf("ingest: receipt file %s has no items", path)
	}
	return &r, nil
}
