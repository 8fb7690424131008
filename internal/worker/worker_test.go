package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appprecos/enrich-cli/internal/model"
	"github.com/appprecos/enrich-cli/internal/resolver"
)

// memStore is an in-memory pending queue.
type memStore struct {
	lines   map[int64]*model.PurchaseLine
	backlog []model.BacklogItem
}

func newMemStore() *memStore {
	return &memStore{lines: make(map[int64]*model.PurchaseLine)}
}

func (m *memStore) addPending(id int64, rawText string) {
	m.lines[id] = &model.PurchaseLine{
		ID:          id,
		MarketID:    "MKTA1B2C3D4",
		Barcode:     model.NoBarcode,
		TaxCategory: "04021000",
		RawText:     rawText,
		UnitPrice:   7.99,
		Status:      model.EnrichmentPending,
	}
}

func (m *memStore) ListPendingLines(_ context.Context, maxAttempts, limit int) ([]model.PurchaseLine, error) {
	var out []model.PurchaseLine
	for id := int64(1); id <= int64(len(m.lines))+100 && len(out) < limit; id++ {
		l, ok := m.lines[id]
		if !ok || l.Enriched || l.Attempts >= maxAttempts {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (m *memStore) MarkLineCompleted(_ context.Context, id int64) error {
	m.lines[id].Enriched = true
	m.lines[id].Status = model.EnrichmentCompleted
	return nil
}

func (m *memStore) MarkLineFailed(_ context.Context, id int64, errMsg string) error {
	m.lines[id].Status = model.EnrichmentFailed
	m.lines[id].EnrichmentError = errMsg
	m.lines[id].Attempts++
	return nil
}

func (m *memStore) MarkLineBacklog(_ context.Context, id int64, errMsg string) error {
	m.lines[id].Enriched = true
	m.lines[id].Status = model.EnrichmentBacklog
	m.lines[id].EnrichmentError = errMsg
	m.lines[id].Attempts++
	return nil
}

func (m *memStore) InsertBacklogItem(_ context.Context, item model.BacklogItem) error {
	m.backlog = append(m.backlog, item)
	return nil
}

// scriptedResolver returns canned outcomes per line id.
type scriptedResolver struct {
	outcomes map[int64]resolver.Outcome
	errs     map[int64]error
	calls    []int64
}

func (s *scriptedResolver) Resolve(_ context.Context, line model.PurchaseLine) (resolver.Outcome, error) {
	s.calls = append(s.calls, line.ID)
	if err := s.errs[line.ID]; err != nil {
		return resolver.Outcome{}, err
	}
	return s.outcomes[line.ID], nil
}

type recordingUpserter struct {
	upserts []model.CanonicalProduct
	err     error
}

func (r *recordingUpserter) Upsert(_ context.Context, p model.CanonicalProduct) (*model.CanonicalProduct, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.upserts = append(r.upserts, p)
	return &p, nil
}

func resolvedOutcome(name string) resolver.Outcome {
	return resolver.Outcome{Kind: resolver.KindResolved, Name: name, Barcode: "7891000100103", Source: model.SourceCosmos}
}

func newTestWorker(store *memStore, res *scriptedResolver, up *recordingUpserter, cfg Config) *Worker {
	w := New(store, res, up, cfg)
	w.sleep = func(time.Duration) {}
	return w
}

func TestRun_DrainsQueueAcrossBatches(t *testing.T) {
	store := newMemStore()
	res := &scriptedResolver{outcomes: map[int64]resolver.Outcome{}}
	for i := int64(1); i <= 7; i++ {
		store.addPending(i, "LEITE COND NINHO")
		res.outcomes[i] = resolvedOutcome("Leite Condensado Ninho 395g")
	}
	up := &recordingUpserter{}
	w := newTestWorker(store, res, up, Config{BatchSize: 3, MaxAttempts: 5})

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Processed)
	assert.Equal(t, 7, summary.Completed)
	assert.False(t, summary.RateLimited)
	assert.Len(t, up.upserts, 7)

	for _, l := range store.lines {
		assert.Equal(t, model.EnrichmentCompleted, l.Status)
	}
}

func TestRun_RateLimitAbortsWholeRun(t *testing.T) {
	store := newMemStore()
	res := &scriptedResolver{outcomes: map[int64]resolver.Outcome{}}
	for i := int64(1); i <= 10; i++ {
		store.addPending(i, "LEITE COND NINHO")
		res.outcomes[i] = resolver.Outcome{Kind: resolver.KindRateLimited}
	}
	w := newTestWorker(store, res, &recordingUpserter{}, Config{BatchSize: 10, MaxAttempts: 5})

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.RateLimited)
	assert.Zero(t, summary.Processed, "no item may be classified once quota is gone")
	assert.Len(t, res.calls, 1, "only the first item may have been attempted")

	// Every line stays pending for the next run.
	for _, l := range store.lines {
		assert.Equal(t, model.EnrichmentPending, l.Status)
		assert.Zero(t, l.Attempts)
	}
}

func TestRun_BacklogOutcomeIsTerminal(t *testing.T) {
	store := newMemStore()
	store.addPending(1, "PROD DESCONHECIDO")
	res := &scriptedResolver{outcomes: map[int64]resolver.Outcome{
		1: {Kind: resolver.KindBacklog},
	}}
	w := newTestWorker(store, res, &recordingUpserter{}, Config{BatchSize: 10, MaxAttempts: 5})

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Backlogged)

	line := store.lines[1]
	assert.True(t, line.Enriched, "backlog lines leave the polling set")
	assert.Equal(t, model.EnrichmentBacklog, line.Status)
	require.Len(t, store.backlog, 1)
	assert.Equal(t, int64(1), store.backlog[0].PurchaseLineID)
	assert.Equal(t, "PROD DESCONHECIDO", store.backlog[0].RawText)
}

func TestRun_TransientFailureStaysRetryable(t *testing.T) {
	store := newMemStore()
	store.addPending(1, "LEITE COND NINHO")
	res := &scriptedResolver{errs: map[int64]error{1: eris.New("api: connection reset")}}
	w := newTestWorker(store, res, &recordingUpserter{}, Config{BatchSize: 10, MaxAttempts: 5})

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	line := store.lines[1]
	assert.False(t, line.Enriched)
	assert.Equal(t, model.EnrichmentFailed, line.Status)
	assert.Equal(t, 1, line.Attempts)
	assert.Contains(t, line.EnrichmentError, "connection reset")
}

func TestRun_RetryBudgetExhaustionParksInBacklog(t *testing.T) {
	store := newMemStore()
	store.addPending(1, "LEITE COND NINHO")
	store.lines[1].Attempts = 4 // one attempt left with MaxAttempts 5
	res := &scriptedResolver{errs: map[int64]error{1: eris.New("api: connection reset")}}
	w := newTestWorker(store, res, &recordingUpserter{}, Config{BatchSize: 10, MaxAttempts: 5})

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	line := store.lines[1]
	assert.True(t, line.Enriched)
	assert.Equal(t, model.EnrichmentBacklog, line.Status)
	require.Len(t, store.backlog, 1)
	assert.Contains(t, store.backlog[0].Reason, "retry budget exhausted")
}

func TestRun_UpsertFailureMarksLineFailed(t *testing.T) {
	store := newMemStore()
	store.addPending(1, "LEITE COND NINHO")
	res := &scriptedResolver{outcomes: map[int64]resolver.Outcome{1: resolvedOutcome("Leite Condensado Ninho 395g")}}
	up := &recordingUpserter{err: eris.New("store: connection lost")}
	w := newTestWorker(store, res, up, Config{BatchSize: 10, MaxAttempts: 5})

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, model.EnrichmentFailed, store.lines[1].Status)
}

func TestRun_ResolvedBarcodePromotesLine(t *testing.T) {
	store := newMemStore()
	store.addPending(1, "LEITE COND NINHO")
	res := &scriptedResolver{outcomes: map[int64]resolver.Outcome{1: resolvedOutcome("Leite Condensado Ninho 395g")}}
	up := &recordingUpserter{}
	w := newTestWorker(store, res, up, Config{BatchSize: 10, MaxAttempts: 5})

	_, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, up.upserts, 1)
	// The barcode discovered during resolution wins over the line's sentinel.
	assert.Equal(t, "7891000100103", up.upserts[0].Barcode)
	assert.Equal(t, 7.99, up.upserts[0].Price)
}

func TestRun_EmptyQueueReturnsImmediately(t *testing.T) {
	w := newTestWorker(newMemStore(), &scriptedResolver{}, &recordingUpserter{}, Config{BatchSize: 10, MaxAttempts: 5})

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

func TestRun_CanceledContext(t *testing.T) {
	store := newMemStore()
	store.addPending(1, "LEITE COND NINHO")
	w := newTestWorker(store, &scriptedResolver{}, &recordingUpserter{}, Config{BatchSize: 10, MaxAttempts: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Run(ctx)
	require.Error(t, err)
}
