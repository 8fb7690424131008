package cosmos

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient scripts per-token responses for rotator tests.
type fakeClient struct {
	byToken map[string]error
	product *Product
	calls   []string
}

func (f *fakeClient) ProductByGTIN(ctx context.Context, token, gtin string) (*Product, error) {
	f.calls = append(f.calls, token)
	if err := f.byToken[token]; err != nil {
		return nil, err
	}
	return f.product, nil
}

func (f *fakeClient) Search(ctx context.Context, token, query string) ([]Product, error) {
	f.calls = append(f.calls, token)
	if err := f.byToken[token]; err != nil {
		return nil, err
	}
	return []Product{*f.product}, nil
}

func TestRotator_FirstTokenSucceeds(t *testing.T) {
	fake := &fakeClient{
		byToken: map[string]error{},
		product: &Product{Description: "ARROZ TIO JOAO 5KG", GTIN: 7893500020134},
	}
	r := NewRotator(fake, []string{"a", "b", "c"})

	got, err := r.ProductByGTIN(context.Background(), "7893500020134")
	require.NoError(t, err)
	assert.Equal(t, "ARROZ TIO JOAO 5KG", got.Description)
	assert.Equal(t, []string{"a"}, fake.calls)
}

func TestRotator_RotatesPastExhaustedToken(t *testing.T) {
	fake := &fakeClient{
		byToken: map[string]error{"a": ErrQuotaExceeded},
		product: &Product{Description: "FEIJAO CARIOCA 1KG", GTIN: 7896006744481},
	}
	r := NewRotator(fake, []string{"a", "b", "c"})

	got, err := r.ProductByGTIN(context.Background(), "7896006744481")
	require.NoError(t, err)
	assert.Equal(t, "FEIJAO CARIOCA 1KG", got.Description)
	assert.Equal(t, []string{"a", "b"}, fake.calls)
}

func TestRotator_ExhaustedAfterFullCycle(t *testing.T) {
	fake := &fakeClient{
		byToken: map[string]error{
			"a": ErrQuotaExceeded,
			"b": ErrQuotaExceeded,
			"c": ErrQuotaExceeded,
		},
	}
	r := NewRotator(fake, []string{"a", "b", "c"})

	_, err := r.ProductByGTIN(context.Background(), "7891000100103")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	// Exactly one attempt per token, never an endless loop.
	assert.Equal(t, []string{"a", "b", "c"}, fake.calls)
}

func TestRotator_IndexPersistsAcrossCalls(t *testing.T) {
	fake := &fakeClient{
		byToken: map[string]error{"a": ErrQuotaExceeded},
		product: &Product{Description: "ACUCAR UNIAO 1KG", GTIN: 7891910000197},
	}
	r := NewRotator(fake, []string{"a", "b"})

	_, err := r.ProductByGTIN(context.Background(), "7891910000197")
	require.NoError(t, err)

	// The second call starts from token b, not back at the burnt token a.
	fake.calls = nil
	_, err = r.ProductByGTIN(context.Background(), "7891910000197")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, fake.calls)
}

func TestRotator_NotFoundDoesNotRotate(t *testing.T) {
	fake := &fakeClient{
		byToken: map[string]error{"a": ErrNotFound},
	}
	r := NewRotator(fake, []string{"a", "b"})

	_, err := r.ProductByGTIN(context.Background(), "0000000000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, []string{"a"}, fake.calls)
}

func TestRotator_EmptyPool(t *testing.T) {
	r := NewRotator(&fakeClient{}, nil)

	_, err := r.Search(context.Background(), "leite")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
}
