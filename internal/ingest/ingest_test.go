package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appprecos/enrich-cli/internal/model"
)

type memStore struct {
	records map[string]*model.ProcessingRecord // by id
	byURL   map[string]string
	markets map[string]*model.Market // by name|address
	nextID  int
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]*model.ProcessingRecord),
		byURL:   make(map[string]string),
		markets: make(map[string]*model.Market),
	}
}

func (m *memStore) GetProcessingRecordByURL(_ context.Context, url string) (*model.ProcessingRecord, error) {
	id, ok := m.byURL[url]
	if !ok {
		return nil, nil
	}
	r := *m.records[id]
	return &r, nil
}

func (m *memStore) CreateProcessingRecord(_ context.Context, url string) (*model.ProcessingRecord, error) {
	if _, ok := m.byURL[url]; ok {
		return nil, eris.New("store: duplicate url")
	}
	m.nextID++
	r := &model.ProcessingRecord{ID: string(rune('a' + m.nextID)), URL: url, Status: model.RecordProcessing, StartedAt: time.Now()}
	m.records[r.ID] = r
	m.byURL[url] = r.ID
	return r, nil
}

func (m *memStore) TransitionRecord(_ context.Context, id string, from, to model.RecordStatus) (bool, error) {
	r, ok := m.records[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (m *memStore) FinishRecord(_ context.Context, id string, status model.RecordStatus, marketID string, productsCount int) error {
	r := m.records[id]
	r.Status = status
	r.MarketID = marketID
	r.ProductsCount = productsCount
	return nil
}

func (m *memStore) EnsureMarket(_ context.Context, name, address string) (*model.Market, string, error) {
	key := name + "|" + address
	if mk, ok := m.markets[key]; ok {
		return mk, "matched", nil
	}
	mk := &model.Market{ID: int64(len(m.markets) + 1), MarketID: "MKTTEST00" + name[:2], Name: name, Address: address}
	m.markets[key] = mk
	return mk, "created", nil
}

type fakeLedger struct {
	saved int
	err   error
	calls int
}

func (f *fakeLedger) WriteBatch(_ context.Context, _ string, items []model.LineItem, _ string, _ time.Time) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	f.saved = len(items)
	return len(items), nil
}

// passLock claims the record and tracks releases.
type passLock struct {
	store    *memStore
	acquired bool
	denied   bool
	released model.RecordStatus
}

func (p *passLock) Acquire(ctx context.Context, recordID string, _ time.Duration) (bool, error) {
	if p.denied {
		return false, nil
	}
	p.acquired = true
	_, err := p.store.TransitionRecord(ctx, recordID, model.RecordProcessing, model.RecordExtracting)
	return true, err
}

func (p *passLock) Release(ctx context.Context, recordID string, final model.RecordStatus) error {
	p.released = final
	_, err := p.store.TransitionRecord(ctx, recordID, model.RecordExtracting, final)
	return err
}

type fakeExtractor struct {
	receipt *Receipt
	err     error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (*Receipt, error) {
	return f.receipt, f.err
}

func testReceipt() *Receipt {
	return &Receipt{
		MarketName:    "Supermercado Central",
		MarketAddress: "Rua A, 100",
		PurchaseDate:  time.Now(),
		Items: []model.LineItem{
			{Barcode: "7891000100103", TaxCategory: "04021000", RawText: "LEITE COND NINHO", Quantity: 1, Unit: "UN", UnitPrice: 7.99, TotalPrice: 7.99},
			{Barcode: "none", TaxCategory: "10063021", RawText: "ARROZ TIPO 1 5KG", Quantity: 1, Unit: "UN", UnitPrice: 22.90, TotalPrice: 22.90},
		},
	}
}

func TestIngest_Success(t *testing.T) {
	store := newMemStore()
	ledger := &fakeLedger{}
	locker := &passLock{store: store}
	ing := New(store, ledger, locker, &fakeExtractor{receipt: testReceipt()})

	res, err := ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SavedCount)
	assert.Equal(t, "created", res.MarketOutcome)
	assert.True(t, locker.acquired)

	rec := store.records[res.Record.ID]
	assert.Equal(t, model.RecordSuccess, rec.Status)
	assert.Equal(t, res.Market.MarketID, rec.MarketID)
	assert.Equal(t, 2, rec.ProductsCount)
}

func TestIngest_DuplicateURL(t *testing.T) {
	store := newMemStore()
	locker := &passLock{store: store}
	ing := New(store, &fakeLedger{}, locker, &fakeExtractor{receipt: testReceipt()})

	_, err := ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.NoError(t, err)

	_, err = ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
}

func TestIngest_FailedRecordCanBeRetried(t *testing.T) {
	store := newMemStore()
	locker := &passLock{store: store}
	extractor := &fakeExtractor{err: eris.New("scrape: page timeout")}
	ing := New(store, &fakeLedger{}, locker, extractor)

	_, err := ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.Error(t, err)
	assert.Equal(t, model.RecordError, locker.released)

	// Retry after the scraper recovers.
	extractor.err = nil
	extractor.receipt = testReceipt()
	res, err := ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SavedCount)
}

func TestIngest_LockTimeout(t *testing.T) {
	store := newMemStore()
	locker := &passLock{store: store, denied: true}
	ing := New(store, &fakeLedger{}, locker, &fakeExtractor{receipt: testReceipt()})

	_, err := ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))

	// The record is parked in error so a later run can revive it.
	id := store.byURL["https://nfce.example/abc"]
	assert.Equal(t, model.RecordError, store.records[id].Status)
}

func TestIngest_LedgerFailureReleasesWithError(t *testing.T) {
	store := newMemStore()
	locker := &passLock{store: store}
	ledger := &fakeLedger{err: eris.New("ledger: batch write failed")}
	ing := New(store, ledger, locker, &fakeExtractor{receipt: testReceipt()})

	_, err := ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.Error(t, err)
	assert.Equal(t, model.RecordError, locker.released)
}

// reapingExtractor simulates the stale sweep stealing the lock while the
// extraction is still running.
type reapingExtractor struct {
	store   *memStore
	receipt *Receipt
}

func (r *reapingExtractor) Extract(_ context.Context, url string) (*Receipt, error) {
	id := r.store.byURL[url]
	r.store.records[id].Status = model.RecordError
	return r.receipt, nil
}

func TestIngest_ReapedRecordNotFlippedToSuccess(t *testing.T) {
	store := newMemStore()
	locker := &passLock{store: store}
	extractor := &reapingExtractor{store: store, receipt: testReceipt()}
	ing := New(store, &fakeLedger{}, locker, extractor)

	res, err := ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SavedCount)

	// The sweep's verdict stands; finishing must not resurrect the record.
	rec := store.records[res.Record.ID]
	assert.Equal(t, model.RecordError, rec.Status)
	assert.Zero(t, rec.ProductsCount)
}

func TestIngest_ReusesExistingMarket(t *testing.T) {
	store := newMemStore()
	locker := &passLock{store: store}
	ing := New(store, &fakeLedger{}, locker, &fakeExtractor{receipt: testReceipt()})

	res1, err := ing.Ingest(context.Background(), "https://nfce.example/abc")
	require.NoError(t, err)

	res2, err := ing.Ingest(context.Background(), "https://nfce.example/def")
	require.NoError(t, err)
	assert.Equal(t, "matched", res2.MarketOutcome)
	assert.Equal(t, res1.Market.MarketID, res2.Market.MarketID)
}

func TestFileExtractor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt.json")
	data, err := json.Marshal(testReceipt())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := FileExtractor{}.Extract(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "Supermercado Central", r.MarketName)
	assert.Len(t, r.Items, 2)
}

func TestFileExtractor_Invalid(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := FileExtractor{}.Extract(context.Background(), filepath.Join(dir, "absent.json"))
		require.Error(t, err)
	})

	t.Run("no items", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"market_name":"X","items":[]}`), 0o644))
		_, err := FileExtractor{}.Extract(context.Background(), path)
		require.Error(t, err)
	})
}
