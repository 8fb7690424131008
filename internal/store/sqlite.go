package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/appprecos/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local
// single-file alternative to Postgres, useful for development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS markets (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id TEXT NOT NULL UNIQUE,
	name      TEXT NOT NULL,
	address   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_markets_name_address ON markets(name, address);

CREATE TABLE IF NOT EXISTS purchase_lines (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id         TEXT NOT NULL,
	barcode           TEXT NOT NULL DEFAULT 'SEM GTIN',
	tax_category      TEXT NOT NULL,
	raw_text          TEXT NOT NULL,
	quantity          REAL NOT NULL DEFAULT 0,
	unit              TEXT NOT NULL DEFAULT 'UN',
	unit_price        REAL NOT NULL DEFAULT 0,
	total_price       REAL NOT NULL DEFAULT 0,
	source_url        TEXT NOT NULL,
	purchase_date     DATETIME NOT NULL DEFAULT (datetime('now')),
	enriched          INTEGER NOT NULL DEFAULT 0,
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	enrichment_error  TEXT NOT NULL DEFAULT '',
	attempts          INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_purchase_lines_enriched ON purchase_lines(enriched, attempts);
CREATE INDEX IF NOT EXISTS idx_purchase_lines_market ON purchase_lines(market_id);

CREATE TABLE IF NOT EXISTS canonical_products (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id    TEXT NOT NULL,
	barcode      TEXT NOT NULL DEFAULT 'SEM GTIN',
	tax_category TEXT NOT NULL,
	display_name TEXT NOT NULL,
	unit         TEXT NOT NULL DEFAULT 'UN',
	price        REAL NOT NULL DEFAULT 0,
	source_url   TEXT NOT NULL DEFAULT '',
	last_updated DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_canonical_market_barcode
	ON canonical_products(market_id, barcode)
	WHERE barcode <> '' AND barcode <> 'SEM GTIN';
CREATE INDEX IF NOT EXISTS idx_canonical_barcode ON canonical_products(barcode);
CREATE INDEX IF NOT EXISTS idx_canonical_tax_category ON canonical_products(tax_category);
CREATE INDEX IF NOT EXISTS idx_canonical_name_key ON canonical_products(market_id, tax_category, display_name);

CREATE TABLE IF NOT EXISTS processing_records (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL UNIQUE,
	market_id      TEXT NOT NULL DEFAULT '',
	products_count INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'processing',
	started_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_processing_records_status ON processing_records(status);

CREATE TABLE IF NOT EXISTS lookup_audit (
	id             TEXT PRIMARY KEY,
	market_id      TEXT NOT NULL DEFAULT '',
	source_url     TEXT NOT NULL DEFAULT '',
	raw_text       TEXT NOT NULL,
	tax_category   TEXT NOT NULL,
	barcode        TEXT NOT NULL DEFAULT '',
	canonical_name TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL,
	success        INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lookup_audit_reuse ON lookup_audit(raw_text, tax_category, success);

CREATE TABLE IF NOT EXISTS backlog_items (
	id               TEXT PRIMARY KEY,
	purchase_line_id INTEGER NOT NULL,
	market_id        TEXT NOT NULL,
	raw_text         TEXT NOT NULL,
	tax_category     TEXT NOT NULL,
	barcode          TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_backlog_items_line ON backlog_items(purchase_line_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %v", kind, id)
	}
	return nil
}

// Markets

func (s *SQLiteStore) EnsureMarket(ctx context.Context, name, address string) (*model.Market, string, error) {
	var m model.Market
	err := s.db.QueryRowContext(ctx,
		`SELECT id, market_id, name, address FROM markets WHERE name = ? AND address = ?`,
		name, address,
	).Scan(&m.ID, &m.MarketID, &m.Name, &m.Address)
	if err == nil {
		return &m, "matched", nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, "", eris.Wrap(err, "sqlite: lookup market")
	}

	marketID := newMarketID()
	for {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM markets WHERE market_id = ?`, marketID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, "", eris.Wrap(err, "sqlite: check market id")
		}
		marketID = newMarketID()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO markets (market_id, name, address) VALUES (?, ?, ?)`,
		marketID, name, address,
	)
	if err != nil {
		return nil, "", eris.Wrap(err, "sqlite: insert market")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, "", eris.Wrap(err, "sqlite: market insert id")
	}
	return &model.Market{ID: id, MarketID: marketID, Name: name, Address: address}, "created", nil
}

func (s *SQLiteStore) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	var m model.Market
	err := s.db.QueryRowContext(ctx,
		`SELECT id, market_id, name, address FROM markets WHERE market_id = ?`,
		marketID,
	).Scan(&m.ID, &m.MarketID, &m.Name, &m.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get market %s", marketID)
	}
	return &m, nil
}

// Purchase ledger

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchaseLineSQL(row rowScanner) (*model.PurchaseLine, error) {
	var l model.PurchaseLine
	err := row.Scan(&l.ID, &l.MarketID, &l.Barcode, &l.TaxCategory, &l.RawText,
		&l.Quantity, &l.Unit, &l.UnitPrice, &l.TotalPrice, &l.SourceURL,
		&l.PurchaseDate, &l.Enriched, &l.Status, &l.EnrichmentError, &l.Attempts)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) InsertPurchaseLine(ctx context.Context, line model.PurchaseLine) (int64, error) {
	if line.PurchaseDate.IsZero() {
		line.PurchaseDate = time.Now().UTC()
	}
	if line.Status == "" {
		line.Status = model.EnrichmentPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO purchase_lines
		 (market_id, barcode, tax_category, raw_text, quantity, unit, unit_price, total_price,
		  source_url, purchase_date, enriched, enrichment_status, enrichment_error, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.MarketID, line.Barcode, line.TaxCategory, line.RawText, line.Quantity,
		line.Unit, line.UnitPrice, line.TotalPrice, line.SourceURL, line.PurchaseDate,
		line.Enriched, string(line.Status), line.EnrichmentError, line.Attempts,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert purchase line")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purchase line insert id")
	}
	return id, nil
}

func (s *SQLiteStore) DeletePurchaseLine(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM purchase_lines WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete purchase line %d", id)
}

func (s *SQLiteStore) ListPendingLines(ctx context.Context, maxAttempts, limit int) ([]model.PurchaseLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+purchaseLineColumns+` FROM purchase_lines
		 WHERE enriched = 0 AND attempts < ?
		 ORDER BY id ASC LIMIT ?`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending lines")
	}
	defer rows.Close()

	var lines []model.PurchaseLine
	for rows.Next() {
		l, err := scanPurchaseLineSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan purchase line")
		}
		lines = append(lines, *l)
	}
	return lines, eris.Wrap(rows.Err(), "sqlite: list pending lines iterate")
}

func (s *SQLiteStore) MarkLineCompleted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE purchase_lines
		 SET enriched = 1, enrichment_status = ?, enrichment_error = ''
		 WHERE id = ?`,
		string(model.EnrichmentCompleted), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark line completed %d", id)
	}
	return checkRowsAffected(res, "purchase line", id)
}

func (s *SQLiteStore) MarkLineFailed(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE purchase_lines
		 SET enrichment_status = ?, enrichment_error = ?, attempts = attempts + 1
		 WHERE id = ?`,
		string(model.EnrichmentFailed), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark line failed %d", id)
	}
	return checkRowsAffected(res, "purchase line", id)
}

func (s *SQLiteStore) MarkLineBacklog(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE purchase_lines
		 SET enriched = 1, enrichment_status = ?, enrichment_error = ?, attempts = attempts + 1
		 WHERE id = ?`,
		string(model.EnrichmentBacklog), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark line backlog %d", id)
	}
	return checkRowsAffected(res, "purchase line", id)
}

// Canonical products

func scanCanonicalSQL(row rowScanner) (*model.CanonicalProduct, error) {
	var p model.CanonicalProduct
	err := row.Scan(&p.ID, &p.MarketID, &p.Barcode, &p.TaxCategory, &p.DisplayName,
		&p.Unit, &p.Price, &p.SourceURL, &p.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) CanonicalByBarcode(ctx context.Context, barcode string) (*model.CanonicalProduct, error) {
	p, err := scanCanonicalSQL(s.db.QueryRowContext(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_products
		 WHERE barcode = ? ORDER BY last_updated DESC LIMIT 1`,
		barcode,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: canonical by barcode %s", barcode)
	}
	return p, nil
}

func (s *SQLiteStore) CanonicalByKey(ctx context.Context, marketID, barcode string) (*model.CanonicalProduct, error) {
	p, err := scanCanonicalSQL(s.db.QueryRowContext(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_products
		 WHERE market_id = ? AND barcode = ? LIMIT 1`,
		marketID, barcode,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: canonical by key")
	}
	return p, nil
}

func (s *SQLiteStore) CanonicalByName(ctx context.Context, marketID, taxCategory, displayName string) (*model.CanonicalProduct, error) {
	p, err := scanCanonicalSQL(s.db.QueryRowContext(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_products
		 WHERE market_id = ? AND tax_category = ? AND display_name = ? LIMIT 1`,
		marketID, taxCategory, displayName,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: canonical by name")
	}
	return p, nil
}

func (s *SQLiteStore) CanonicalCandidates(ctx context.Context, taxCategory string, limit int) ([]model.CanonicalProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_products
		 WHERE tax_category = ? ORDER BY last_updated DESC LIMIT ?`,
		taxCategory, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: canonical candidates")
	}
	defer rows.Close()

	var products []model.CanonicalProduct
	for rows.Next() {
		p, err := scanCanonicalSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical")
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: canonical candidates iterate")
}

func (s *SQLiteStore) InsertCanonical(ctx context.Context, p model.CanonicalProduct) (int64, error) {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO canonical_products
		 (market_id, barcode, tax_category, display_name, unit, price, source_url, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.MarketID, p.Barcode, p.TaxCategory, p.DisplayName, p.Unit, p.Price,
		p.SourceURL, p.LastUpdated,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert canonical")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: canonical insert id")
	}
	return id, nil
}

func (s *SQLiteStore) UpdateCanonical(ctx context.Context, id int64, p model.CanonicalProduct) error {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE canonical_products
		 SET market_id = ?, barcode = ?, tax_category = ?, display_name = ?,
		     unit = ?, price = ?, source_url = ?, last_updated = ?
		 WHERE id = ?`,
		p.MarketID, p.Barcode, p.TaxCategory, p.DisplayName, p.Unit, p.Price,
		p.SourceURL, p.LastUpdated, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update canonical %d", id)
	}
	return checkRowsAffected(res, "canonical product", id)
}

func (s *SQLiteStore) DeleteCanonical(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM canonical_products WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete canonical %d", id)
}

// Processing records

func (s *SQLiteStore) CreateProcessingRecord(ctx context.Context, url string) (*model.ProcessingRecord, error) {
	rec := model.ProcessingRecord{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    model.RecordProcessing,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_records (id, url, market_id, products_count, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.URL, rec.MarketID, rec.ProductsCount, string(rec.Status), rec.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert processing record")
	}
	return &rec, nil
}

func (s *SQLiteStore) GetProcessingRecordByURL(ctx context.Context, url string) (*model.ProcessingRecord, error) {
	var r model.ProcessingRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, market_id, products_count, status, started_at
		 FROM processing_records WHERE url = ?`,
		url,
	).Scan(&r.ID, &r.URL, &r.MarketID, &r.ProductsCount, &r.Status, &r.StartedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get processing record")
	}
	return &r, nil
}

func (s *SQLiteStore) ListRecordsInStatus(ctx context.Context, status model.RecordStatus) ([]model.ProcessingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, market_id, products_count, status, started_at
		 FROM processing_records WHERE status = ? ORDER BY started_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records in status")
	}
	defer rows.Close()

	var records []model.ProcessingRecord
	for rows.Next() {
		var r model.ProcessingRecord
		if err := rows.Scan(&r.ID, &r.URL, &r.MarketID, &r.ProductsCount, &r.Status, &r.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan processing record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (bool, error) {
	var query string
	if to == model.RecordExtracting {
		query = `UPDATE processing_records SET status = ?, started_at = datetime('now') WHERE id = ? AND status = ?`
	} else {
		query = `UPDATE processing_records SET status = ? WHERE id = ? AND status = ?`
	}
	res, err := s.db.ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition record %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) FinishRecord(ctx context.Context, id string, status model.RecordStatus, marketID string, productsCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processing_records SET status = ?, market_id = ?, products_count = ? WHERE id = ?`,
		string(status), marketID, productsCount, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish record %s", id)
	}
	return checkRowsAffected(res, "processing record", id)
}

func (s *SQLiteStore) ReapStaleExtracting(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processing_records SET status = ? WHERE status = ? AND started_at < ?`,
		string(model.RecordError), string(model.RecordExtracting), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reap stale extracting")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

// Lookup audit log

func (s *SQLiteStore) RecordLookup(ctx context.Context, entry model.LookupAuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lookup_audit
		 (id, market_id, source_url, raw_text, tax_category, barcode, canonical_name,
		  source, success, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.MarketID, entry.SourceURL, entry.RawText, entry.TaxCategory,
		entry.Barcode, entry.CanonicalName, string(entry.Source), entry.Success,
		entry.Error, entry.DurationMS, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: record lookup")
}

func (s *SQLiteStore) LatestSuccessfulLookup(ctx context.Context, rawText, taxCategory string) (*model.LookupAuditEntry, error) {
	var e model.LookupAuditEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, market_id, source_url, raw_text, tax_category, barcode, canonical_name,
		        source, success, error, duration_ms, created_at
		 FROM lookup_audit
		 WHERE raw_text = ? AND tax_category = ? AND success = 1
		   AND barcode <> '' AND barcode <> 'SEM GTIN'
		 ORDER BY created_at DESC LIMIT 1`,
		rawText, taxCategory,
	).Scan(&e.ID, &e.MarketID, &e.SourceURL, &e.RawText, &e.TaxCategory, &e.Barcode,
		&e.CanonicalName, &e.Source, &e.Success, &e.Error, &e.DurationMS, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: latest successful lookup")
	}
	return &e, nil
}

// Backlog curation queue

func (s *SQLiteStore) InsertBacklogItem(ctx context.Context, item model.BacklogItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backlog_items
		 (id, purchase_line_id, market_id, raw_text, tax_category, barcode, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.PurchaseLineID, item.MarketID, item.RawText, item.TaxCategory,
		item.Barcode, item.Reason, item.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert backlog item")
}

func (s *SQLiteStore) ListBacklog(ctx context.Context, limit int) ([]model.BacklogItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, purchase_line_id, market_id, raw_text, tax_category, barcode, reason, created_at
		 FROM backlog_items ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list backlog")
	}
	defer rows.Close()

	var items []model.BacklogItem
	for rows.Next() {
		var b model.BacklogItem
		if err := rows.Scan(&b.ID, &b.PurchaseLineID, &b.MarketID, &b.RawText,
			&b.TaxCategory, &b.Barcode, &b.Reason, &b.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan backlog item")
		}
		items = append(items, b)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list backlog iterate")
}

func (s *SQLiteStore) RequeueBacklogItem(ctx context.Context, id string) error {
	var lineID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT purchase_line_id FROM backlog_items WHERE id = ?`, id,
	).Scan(&lineID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Errorf("backlog item not found: %s", id)
		}
		return eris.Wrapf(err, "sqlite: get backlog item %s", id)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE purchase_lines
		 SET enriched = 0, enrichment_status = ?, enrichment_error = '', attempts = 0
		 WHERE id = ?`,
		string(model.EnrichmentPending), lineID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: requeue purchase line %d", lineID)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM backlog_items WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete backlog item %s", id)
}

// Stats

func (s *SQLiteStore) EnrichmentCounts(ctx context.Context) (map[model.EnrichmentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT enrichment_status, COUNT(*) FROM purchase_lines GROUP BY enrichment_status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enrichment counts")
	}
	defer rows.Close()

	counts := make(map[model.EnrichmentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan enrichment count")
		}
		counts[model.EnrichmentStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: enrichment counts iterate")
}
