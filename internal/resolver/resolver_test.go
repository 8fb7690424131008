package resolver

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appprecos/enrich-cli/internal/model"
	"github.com/appprecos/enrich-cli/pkg/cosmos"
	"github.com/appprecos/enrich-cli/pkg/openfoodfacts"
)

type fakeCatalog struct {
	byBarcode  map[string]*model.CanonicalProduct
	auditHit   *model.LookupAuditEntry
	candidates []model.CanonicalProduct
	recorded   []model.LookupAuditEntry
}

func (f *fakeCatalog) CanonicalByBarcode(_ context.Context, barcode string) (*model.CanonicalProduct, error) {
	return f.byBarcode[barcode], nil
}

func (f *fakeCatalog) CanonicalCandidates(_ context.Context, _ string, _ int) ([]model.CanonicalProduct, error) {
	return f.candidates, nil
}

func (f *fakeCatalog) LatestSuccessfulLookup(_ context.Context, _, _ string) (*model.LookupAuditEntry, error) {
	return f.auditHit, nil
}

func (f *fakeCatalog) RecordLookup(_ context.Context, entry model.LookupAuditEntry) error {
	f.recorded = append(f.recorded, entry)
	return nil
}

type fakeAPI struct {
	product      *cosmos.Product
	productErr   error
	searchResult []cosmos.Product
	searchErr    error
	gtinCalls    int
	searchCalls  int
}

func (f *fakeAPI) ProductByGTIN(_ context.Context, _ string) (*cosmos.Product, error) {
	f.gtinCalls++
	return f.product, f.productErr
}

func (f *fakeAPI) Search(_ context.Context, _ string) ([]cosmos.Product, error) {
	f.searchCalls++
	return f.searchResult, f.searchErr
}

type fakeOFF struct {
	product *openfoodfacts.Product
	err     error
}

func (f *fakeOFF) ProductByBarcode(_ context.Context, _ string) (*openfoodfacts.Product, error) {
	return f.product, f.err
}

type fakeMatcher struct {
	decision *Decision
	err      error
	calls    int
}

func (f *fakeMatcher) Match(_ context.Context, _ string, _ []model.CanonicalProduct) (*Decision, error) {
	f.calls++
	return f.decision, f.err
}

func barcodeLine(barcode string) model.PurchaseLine {
	return model.PurchaseLine{
		MarketID:    "MKTA1B2C3D4",
		Barcode:     barcode,
		TaxCategory: "04021000",
		RawText:     "LEITE COND NINHO",
		SourceURL:   "https://nfce.example/abc",
	}
}

func TestResolve_RegistryReuse_BypassesExternalCalls(t *testing.T) {
	catalog := &fakeCatalog{byBarcode: map[string]*model.CanonicalProduct{
		"7891000100103": {Barcode: "7891000100103", DisplayName: "Leite Condensado Ninho 395g"},
	}}
	api := &fakeAPI{productErr: cosmos.ErrNotFound, searchErr: cosmos.ErrNotFound}
	r := New(catalog, api, nil, nil, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine("7891000100103"))
	require.NoError(t, err)
	assert.Equal(t, KindResolved, outcome.Kind)
	assert.Equal(t, "Leite Condensado Ninho 395g", outcome.Name)
	assert.Equal(t, model.SourceRegistry, outcome.Source)
	assert.Zero(t, api.gtinCalls)
	assert.Zero(t, api.searchCalls)
}

func TestResolve_AuditReuse_ForBarcodelessLine(t *testing.T) {
	catalog := &fakeCatalog{auditHit: &model.LookupAuditEntry{
		Barcode:       "7891000100103",
		CanonicalName: "Leite Condensado Ninho 395g",
	}}
	r := New(catalog, &fakeAPI{productErr: cosmos.ErrNotFound, searchErr: cosmos.ErrNotFound}, nil, nil, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine(model.NoBarcode))
	require.NoError(t, err)
	assert.Equal(t, KindResolved, outcome.Kind)
	assert.Equal(t, model.SourceAuditReuse, outcome.Source)
	assert.Equal(t, "7891000100103", outcome.Barcode)
}

func TestResolve_BarcodeLookup(t *testing.T) {
	catalog := &fakeCatalog{}
	api := &fakeAPI{
		product:   &cosmos.Product{Description: "Leite Condensado Ninho 395g", GTIN: 7891000100103},
		searchErr: cosmos.ErrNotFound,
	}
	r := New(catalog, api, nil, nil, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine("7891000100103"))
	require.NoError(t, err)
	assert.Equal(t, KindResolved, outcome.Kind)
	assert.Equal(t, model.SourceCosmos, outcome.Source)
	assert.Equal(t, 1, api.gtinCalls)
	assert.Zero(t, api.searchCalls)
}

func TestResolve_RateLimited_PropagatesImmediately(t *testing.T) {
	catalog := &fakeCatalog{}
	api := &fakeAPI{productErr: cosmos.ErrExhausted}
	off := &fakeOFF{product: &openfoodfacts.Product{Name: "should not be reached"}}
	arbiter := &fakeMatcher{decision: &Decision{Decision: "new", CanonicalName: "should not be reached"}}
	r := New(catalog, api, off, arbiter, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine("7891000100103"))
	require.NoError(t, err)
	assert.Equal(t, KindRateLimited, outcome.Kind)
	assert.Zero(t, arbiter.calls)
}

func TestResolve_FuzzySearch_ThresholdBoundary(t *testing.T) {
	// Ten characters with two substitutions gives a similarity of exactly
	// 0.80 against the raw text.
	raw := "aaaaaaaaaa"
	atThreshold := "aaaaaaaabb"
	require.InDelta(t, 0.80, Similarity(raw, atThreshold), 1e-9)

	line := model.PurchaseLine{
		MarketID:    "MKTA1B2C3D4",
		Barcode:     model.NoBarcode,
		TaxCategory: "04021000",
		RawText:     raw,
	}

	t.Run("exactly at threshold is accepted", func(t *testing.T) {
		api := &fakeAPI{
			productErr: cosmos.ErrNotFound,
			searchResult: []cosmos.Product{
				{Description: atThreshold, GTIN: 7891000100103, NCM: cosmos.NCM{Code: "04021000"}},
			},
		}
		r := New(&fakeCatalog{}, api, nil, nil, DefaultTuning())

		outcome, err := r.Resolve(context.Background(), line)
		require.NoError(t, err)
		assert.Equal(t, KindResolved, outcome.Kind)
		assert.Equal(t, model.SourceFuzzySearch, outcome.Source)
		assert.Equal(t, "7891000100103", outcome.Barcode)
	})

	t.Run("below threshold is rejected", func(t *testing.T) {
		below := "aaaaaaabbb" // three substitutions, similarity 0.70
		api := &fakeAPI{
			productErr: cosmos.ErrNotFound,
			searchResult: []cosmos.Product{
				{Description: below, GTIN: 7891000100103, NCM: cosmos.NCM{Code: "04021000"}},
			},
		}
		r := New(&fakeCatalog{}, api, nil, nil, DefaultTuning())

		outcome, err := r.Resolve(context.Background(), line)
		require.NoError(t, err)
		assert.Equal(t, KindBacklog, outcome.Kind)
	})
}

func TestResolve_FuzzySearch_WrongCategoryIsIgnored(t *testing.T) {
	line := model.PurchaseLine{
		Barcode:     model.NoBarcode,
		TaxCategory: "04021000",
		RawText:     "LEITE COND NINHO",
	}
	api := &fakeAPI{
		productErr: cosmos.ErrNotFound,
		searchResult: []cosmos.Product{
			// Identical description but a different fiscal category.
			{Description: "LEITE COND NINHO", GTIN: 7891000100103, NCM: cosmos.NCM{Code: "22021000"}},
		},
	}
	r := New(&fakeCatalog{}, api, nil, nil, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), line)
	require.NoError(t, err)
	assert.Equal(t, KindBacklog, outcome.Kind)
}

func TestResolve_OpenFoodFactsFallback(t *testing.T) {
	api := &fakeAPI{productErr: cosmos.ErrNotFound, searchErr: cosmos.ErrNotFound}
	off := &fakeOFF{product: &openfoodfacts.Product{Name: "Leite Condensado Ninho 395g"}}
	r := New(&fakeCatalog{}, api, off, nil, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine("7891000100103"))
	require.NoError(t, err)
	assert.Equal(t, KindResolved, outcome.Kind)
	assert.Equal(t, model.SourceOpenFoodFacts, outcome.Source)
}

func TestResolve_Arbiter_SameReusesCandidateName(t *testing.T) {
	catalog := &fakeCatalog{candidates: []model.CanonicalProduct{
		{Barcode: "7891000100103", DisplayName: "Leite Condensado Ninho 395g"},
		{Barcode: model.NoBarcode, DisplayName: "Leite Condensado Italac 395g"},
	}}
	api := &fakeAPI{productErr: cosmos.ErrNotFound, searchErr: cosmos.ErrNotFound}
	off := &fakeOFF{err: openfoodfacts.ErrNotFound}
	arbiter := &fakeMatcher{decision: &Decision{Decision: "same", MatchedID: 2, CanonicalName: "Leite Condensado Italac 395 g"}}
	r := New(catalog, api, off, arbiter, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine(model.NoBarcode))
	require.NoError(t, err)
	assert.Equal(t, KindResolved, outcome.Kind)
	// The stored candidate name wins over the arbiter's rephrasing.
	assert.Equal(t, "Leite Condensado Italac 395g", outcome.Name)
	assert.Equal(t, model.SourceGenerative, outcome.Source)
}

func TestResolve_Arbiter_NewProduct(t *testing.T) {
	api := &fakeAPI{productErr: cosmos.ErrNotFound, searchErr: cosmos.ErrNotFound}
	arbiter := &fakeMatcher{decision: &Decision{Decision: "new", CanonicalName: "Leite Condensado Ninho 395g"}}
	r := New(&fakeCatalog{}, api, nil, arbiter, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine(model.NoBarcode))
	require.NoError(t, err)
	assert.Equal(t, KindResolved, outcome.Kind)
	assert.Equal(t, "Leite Condensado Ninho 395g", outcome.Name)
	assert.Equal(t, model.NoBarcode, outcome.Barcode)
}

func TestResolve_Arbiter_MalformedFallsToBacklog(t *testing.T) {
	api := &fakeAPI{productErr: cosmos.ErrNotFound, searchErr: cosmos.ErrNotFound}
	arbiter := &fakeMatcher{err: eris.Wrap(ErrMalformedDecision, "no JSON object in output")}
	r := New(&fakeCatalog{}, api, nil, arbiter, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine(model.NoBarcode))
	require.NoError(t, err)
	assert.Equal(t, KindBacklog, outcome.Kind)
}

func TestResolve_Arbiter_TransientErrorSurfaces(t *testing.T) {
	api := &fakeAPI{productErr: cosmos.ErrNotFound, searchErr: cosmos.ErrNotFound}
	arbiter := &fakeMatcher{err: eris.New("api: connection reset")}
	r := New(&fakeCatalog{}, api, nil, arbiter, DefaultTuning())

	_, err := r.Resolve(context.Background(), barcodeLine(model.NoBarcode))
	require.Error(t, err)
}

func TestResolve_AllMiss_Backlog(t *testing.T) {
	catalog := &fakeCatalog{}
	api := &fakeAPI{productErr: cosmos.ErrNotFound, searchErr: cosmos.ErrNotFound}
	off := &fakeOFF{err: openfoodfacts.ErrNotFound}
	r := New(catalog, api, off, nil, DefaultTuning())

	outcome, err := r.Resolve(context.Background(), barcodeLine("7891000100103"))
	require.NoError(t, err)
	assert.Equal(t, KindBacklog, outcome.Kind)

	// The terminal entry is not attributed to any step; the arbiter never ran.
	require.Len(t, catalog.recorded, 1)
	assert.Equal(t, model.SourceNone, catalog.recorded[0].Source)
	assert.False(t, catalog.recorded[0].Success)
}

func TestResolve_AuditTrail_RecordsResolvingSource(t *testing.T) {
	catalog := &fakeCatalog{}
	api := &fakeAPI{
		product:   &cosmos.Product{Description: "Leite Condensado Ninho 395g", GTIN: 7891000100103},
		searchErr: cosmos.ErrNotFound,
	}
	r := New(catalog, api, nil, nil, DefaultTuning())

	_, err := r.Resolve(context.Background(), barcodeLine("7891000100103"))
	require.NoError(t, err)
	require.Len(t, catalog.recorded, 1)
	assert.Equal(t, model.SourceCosmos, catalog.recorded[0].Source)
	assert.True(t, catalog.recorded[0].Success)
	assert.Equal(t, "7891000100103", catalog.recorded[0].Barcode)
}
