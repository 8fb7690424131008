package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/appprecos/enrich-cli/internal/db"
	"github.com/appprecos/enrich-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS markets (
	id        BIGSERIAL PRIMARY KEY,
	market_id TEXT NOT NULL UNIQUE,
	name      TEXT NOT NULL,
	address   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_markets_name_address ON markets(name, address);

CREATE TABLE IF NOT EXISTS purchase_lines (
	id                BIGSERIAL PRIMARY KEY,
	market_id         TEXT NOT NULL,
	barcode           TEXT NOT NULL DEFAULT 'SEM GTIN',
	tax_category      TEXT NOT NULL,
	raw_text          TEXT NOT NULL,
	quantity          DOUBLE PRECISION NOT NULL DEFAULT 0,
	unit              TEXT NOT NULL DEFAULT 'UN',
	unit_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_url        TEXT NOT NULL,
	purchase_date     TIMESTAMPTZ NOT NULL DEFAULT now(),
	enriched          BOOLEAN NOT NULL DEFAULT false,
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	enrichment_error  TEXT NOT NULL DEFAULT '',
	attempts          INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_purchase_lines_enriched ON purchase_lines(enriched, attempts);
CREATE INDEX IF NOT EXISTS idx_purchase_lines_market ON purchase_lines(market_id);

CREATE TABLE IF NOT EXISTS canonical_products (
	id           BIGSERIAL PRIMARY KEY,
	market_id    TEXT NOT NULL,
	barcode      TEXT NOT NULL DEFAULT 'SEM GTIN',
	tax_category TEXT NOT NULL,
	display_name TEXT NOT NULL,
	unit         TEXT NOT NULL DEFAULT 'UN',
	price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_url   TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
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
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now()
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
	success        BOOLEAN NOT NULL DEFAULT false,
	error          TEXT NOT NULL DEFAULT '',
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lookup_audit_reuse ON lookup_audit(raw_text, tax_category, success);

CREATE TABLE IF NOT EXISTS backlog_items (
	id               TEXT PRIMARY KEY,
	purchase_line_id BIGINT NOT NULL,
	market_id        TEXT NOT NULL,
	raw_text         TEXT NOT NULL,
	tax_category     TEXT NOT NULL,
	barcode          TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_backlog_items_line ON backlog_items(purchase_line_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Markets

func (s *PostgresStore) EnsureMarket(ctx context.Context, name, address string) (*model.Market, string, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT id, market_id, name, address FROM markets WHERE name = $1 AND address = $2`,
		name, address,
	).Scan(&m.ID, &m.MarketID, &m.Name, &m.Address)
	if err == nil {
		return &m, "matched", nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", eris.Wrap(err, "postgres: lookup market")
	}

	// Generate a code no other market already holds.
	marketID := newMarketID()
	for {
		var exists int
		err := s.pool.QueryRow(ctx,
			`SELECT 1 FROM markets WHERE market_id = $1`, marketID,
		).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, "", eris.Wrap(err, "postgres: check market id")
		}
		marketID = newMarketID()
	}

	m = model.Market{MarketID: marketID, Name: name, Address: address}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO markets (market_id, name, address) VALUES ($1, $2, $3) RETURNING id`,
		marketID, name, address,
	).Scan(&m.ID)
	if err != nil {
		return nil, "", eris.Wrap(err, "postgres: insert market")
	}
	return &m, "created", nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT id, market_id, name, address FROM markets WHERE market_id = $1`,
		marketID,
	).Scan(&m.ID, &m.MarketID, &m.Name, &m.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get market %s", marketID)
	}
	return &m, nil
}

// Purchase ledger

const purchaseLineColumns = `id, market_id, barcode, tax_category, raw_text, quantity, unit,
	unit_price, total_price, source_url, purchase_date, enriched, enrichment_status,
	enrichment_error, attempts`

func scanPurchaseLine(row pgx.Row) (*model.PurchaseLine, error) {
	var l model.PurchaseLine
	err := row.Scan(&l.ID, &l.MarketID, &l.Barcode, &l.TaxCategory, &l.RawText,
		&l.Quantity, &l.Unit, &l.UnitPrice, &l.TotalPrice, &l.SourceURL,
		&l.PurchaseDate, &l.Enriched, &l.Status, &l.EnrichmentError, &l.Attempts)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) InsertPurchaseLine(ctx context.Context, line model.PurchaseLine) (int64, error) {
	if line.PurchaseDate.IsZero() {
		line.PurchaseDate = time.Now().UTC()
	}
	if line.Status == "" {
		line.Status = model.EnrichmentPending
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO purchase_lines
		 (market_id, barcode, tax_category, raw_text, quantity, unit, unit_price, total_price,
		  source_url, purchase_date, enriched, enrichment_status, enrichment_error, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		line.MarketID, line.Barcode, line.TaxCategory, line.RawText, line.Quantity,
		line.Unit, line.UnitPrice, line.TotalPrice, line.SourceURL, line.PurchaseDate,
		line.Enriched, string(line.Status), line.EnrichmentError, line.Attempts,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert purchase line")
	}
	return id, nil
}

func (s *PostgresStore) DeletePurchaseLine(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM purchase_lines WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete purchase line %d", id)
}

func (s *PostgresStore) ListPendingLines(ctx context.Context, maxAttempts, limit int) ([]model.PurchaseLine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+purchaseLineColumns+` FROM purchase_lines
		 WHERE enriched = false AND attempts < $1
		 ORDER BY id ASC LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending lines")
	}
	defer rows.Close()

	var lines []model.PurchaseLine
	for rows.Next() {
		l, err := scanPurchaseLine(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan purchase line")
		}
		lines = append(lines, *l)
	}
	return lines, eris.Wrap(rows.Err(), "postgres: list pending lines iterate")
}

func (s *PostgresStore) MarkLineCompleted(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE purchase_lines
		 SET enriched = true, enrichment_status = $1, enrichment_error = ''
		 WHERE id = $2`,
		string(model.EnrichmentCompleted), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark line completed %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("purchase line not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) MarkLineFailed(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE purchase_lines
		 SET enrichment_status = $1, enrichment_error = $2, attempts = attempts + 1
		 WHERE id = $3`,
		string(model.EnrichmentFailed), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark line failed %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("purchase line not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) MarkLineBacklog(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE purchase_lines
		 SET enriched = true, enrichment_status = $1, enrichment_error = $2, attempts = attempts + 1
		 WHERE id = $3`,
		string(model.EnrichmentBacklog), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark line backlog %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("purchase line not found: %d", id)
	}
	return nil
}

// Canonical products

const canonicalColumns = `id, market_id, barcode, tax_category, display_name, unit, price, source_url, last_updated`

func scanCanonical(row pgx.Row) (*model.CanonicalProduct, error) {
	var p model.CanonicalProduct
	err := row.Scan(&p.ID, &p.MarketID, &p.Barcode, &p.TaxCategory, &p.DisplayName,
		&p.Unit, &p.Price, &p.SourceURL, &p.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CanonicalByBarcode(ctx context.Context, barcode string) (*model.CanonicalProduct, error) {
	p, err := scanCanonical(s.pool.QueryRow(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_products
		 WHERE barcode = $1 ORDER BY last_updated DESC LIMIT 1`,
		barcode,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: canonical by barcode %s", barcode)
	}
	return p, nil
}

func (s *PostgresStore) CanonicalByKey(ctx context.Context, marketID, barcode string) (*model.CanonicalProduct, error) {
	p, err := scanCanonical(s.pool.QueryRow(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_products
		 WHERE market_id = $1 AND barcode = $2 LIMIT 1`,
		marketID, barcode,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: canonical by key")
	}
	return p, nil
}

func (s *PostgresStore) CanonicalByName(ctx context.Context, marketID, taxCategory, displayName string) (*model.CanonicalProduct, error) {
	p, err := scanCanonical(s.pool.QueryRow(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_products
		 WHERE market_id = $1 AND tax_category = $2 AND display_name = $3 LIMIT 1`,
		marketID, taxCategory, displayName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: canonical by name")
	}
	return p, nil
}

func (s *PostgresStore) CanonicalCandidates(ctx context.Context, taxCategory string, limit int) ([]model.CanonicalProduct, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_products
		 WHERE tax_category = $1 ORDER BY last_updated DESC LIMIT $2`,
		taxCategory, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: canonical candidates")
	}
	defer rows.Close()

	var products []model.CanonicalProduct
	for rows.Next() {
		p, err := scanCanonical(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical")
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "postgres: canonical candidates iterate")
}

func (s *PostgresStore) InsertCanonical(ctx context.Context, p model.CanonicalProduct) (int64, error) {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO canonical_products
		 (market_id, barcode, tax_category, display_name, unit, price, source_url, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		p.MarketID, p.Barcode, p.TaxCategory, p.DisplayName, p.Unit, p.Price,
		p.SourceURL, p.LastUpdated,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert canonical")
	}
	return id, nil
}

func (s *PostgresStore) UpdateCanonical(ctx context.Context, id int64, p model.CanonicalProduct) error {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE canonical_products
		 SET market_id = $1, barcode = $2, tax_category = $3, display_name = $4,
		     unit = $5, price = $6, source_url = $7, last_updated = $8
		 WHERE id = $9`,
		p.MarketID, p.Barcode, p.TaxCategory, p.DisplayName, p.Unit, p.Price,
		p.SourceURL, p.LastUpdated, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update canonical %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("canonical product not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) DeleteCanonical(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM canonical_products WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete canonical %d", id)
}

// Processing records

func (s *PostgresStore) CreateProcessingRecord(ctx context.Context, url string) (*model.ProcessingRecord, error) {
	rec := model.ProcessingRecord{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    model.RecordProcessing,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_records (id, url, market_id, products_count, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.URL, rec.MarketID, rec.ProductsCount, string(rec.Status), rec.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert processing record")
	}
	return &rec, nil
}

func (s *PostgresStore) GetProcessingRecordByURL(ctx context.Context, url string) (*model.ProcessingRecord, error) {
	var r model.ProcessingRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, market_id, products_count, status, started_at
		 FROM processing_records WHERE url = $1`,
		url,
	).Scan(&r.ID, &r.URL, &r.MarketID, &r.ProductsCount, &r.Status, &r.StartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get processing record")
	}
	return &r, nil
}

func (s *PostgresStore) ListRecordsInStatus(ctx context.Context, status model.RecordStatus) ([]model.ProcessingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, market_id, products_count, status, started_at
		 FROM processing_records WHERE status = $1 ORDER BY started_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records in status")
	}
	defer rows.Close()

	var records []model.ProcessingRecord
	for rows.Next() {
		var r model.ProcessingRecord
		if err := rows.Scan(&r.ID, &r.URL, &r.MarketID, &r.ProductsCount, &r.Status, &r.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan processing record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

// TransitionRecord performs a conditional status update, the claim primitive
// the coordinator builds on. Claiming the extracting state refreshes
// started_at so staleness is measured from the claim.
func (s *PostgresStore) TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (bool, error) {
	var tagSQL string
	if to == model.RecordExtracting {
		tagSQL = `UPDATE processing_records SET status = $1, started_at = now() WHERE id = $2 AND status = $3`
	} else {
		tagSQL = `UPDATE processing_records SET status = $1 WHERE id = $2 AND status = $3`
	}
	tag, err := s.pool.Exec(ctx, tagSQL, string(to), id, string(from))
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition record %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) FinishRecord(ctx context.Context, id string, status model.RecordStatus, marketID string, productsCount int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_records SET status = $1, market_id = $2, products_count = $3 WHERE id = $4`,
		string(status), marketID, productsCount, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("processing record not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ReapStaleExtracting(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_records SET status = $1 WHERE status = $2 AND started_at < $3`,
		string(model.RecordError), string(model.RecordExtracting), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reap stale extracting")
	}
	return int(tag.RowsAffected()), nil
}

// Lookup audit log

func (s *PostgresStore) RecordLookup(ctx context.Context, entry model.LookupAuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lookup_audit
		 (id, market_id, source_url, raw_text, tax_category, barcode, canonical_name,
		  source, success, error, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.MarketID, entry.SourceURL, entry.RawText, entry.TaxCategory,
		entry.Barcode, entry.CanonicalName, string(entry.Source), entry.Success,
		entry.Error, entry.DurationMS, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record lookup")
}

func (s *PostgresStore) LatestSuccessfulLookup(ctx context.Context, rawText, taxCategory string) (*model.LookupAuditEntry, error) {
	var e model.LookupAuditEntry
	err := s.pool.QueryRow(ctx,
		`SELECT id, market_id, source_url, raw_text, tax_category, barcode, canonical_name,
		        source, success, error, duration_ms, created_at
		 FROM lookup_audit
		 WHERE raw_text = $1 AND tax_category = $2 AND success = true
		   AND barcode <> '' AND barcode <> 'SEM GTIN'
		 ORDER BY created_at DESC LIMIT 1`,
		rawText, taxCategory,
	).Scan(&e.ID, &e.MarketID, &e.SourceURL, &e.RawText, &e.TaxCategory, &e.Barcode,
		&e.CanonicalName, &e.Source, &e.Success, &e.Error, &e.DurationMS, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest successful lookup")
	}
	return &e, nil
}

// Backlog curation queue

func (s *PostgresStore) InsertBacklogItem(ctx context.Context, item model.BacklogItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO backlog_items
		 (id, purchase_line_id, market_id, raw_text, tax_category, barcode, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.PurchaseLineID, item.MarketID, item.RawText, item.TaxCategory,
		item.Barcode, item.Reason, item.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert backlog item")
}

func (s *PostgresStore) ListBacklog(ctx context.Context, limit int) ([]model.BacklogItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, purchase_line_id, market_id, raw_text, tax_category, barcode, reason, created_at
		 FROM backlog_items ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list backlog")
	}
	defer rows.Close()

	var items []model.BacklogItem
	for rows.Next() {
		var b model.BacklogItem
		if err := rows.Scan(&b.ID, &b.PurchaseLineID, &b.MarketID, &b.RawText,
			&b.TaxCategory, &b.Barcode, &b.Reason, &b.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan backlog item")
		}
		items = append(items, b)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list backlog iterate")
}

// RequeueBacklogItem puts a curated item back into the enrichment queue and
// removes it from the backlog.
func (s *PostgresStore) RequeueBacklogItem(ctx context.Context, id string) error {
	var lineID int64
	err := s.pool.QueryRow(ctx,
		`SELECT purchase_line_id FROM backlog_items WHERE id = $1`, id,
	).Scan(&lineID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("backlog item not found: %s", id)
		}
		return eris.Wrapf(err, "postgres: get backlog item %s", id)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE purchase_lines
		 SET enriched = false, enrichment_status = $1, enrichment_error = '', attempts = 0
		 WHERE id = $2`,
		string(model.EnrichmentPending), lineID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: requeue purchase line %d", lineID)
	}

	_, err = s.pool.Exec(ctx, `DELETE FROM backlog_items WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete backlog item %s", id)
}

// Stats

func (s *PostgresStore) EnrichmentCounts(ctx context.Context) (map[model.EnrichmentStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT enrichment_status, COUNT(*) FROM purchase_lines GROUP BY enrichment_status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enrichment counts")
	}
	defer rows.Close()

	counts := make(map[model.EnrichmentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan enrichment count")
		}
		counts[model.EnrichmentStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: enrichment counts iterate")
}
