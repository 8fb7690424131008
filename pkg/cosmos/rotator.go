package cosmos

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrExhausted means every token in the pool hit its quota for the current
// request. Callers must treat this as a stop condition, not as "not found".
var ErrExhausted = eris.New("cosmos: all tokens exhausted")

// Rotator wraps a Client with a pool of tokens, advancing to the next token
// whenever the current one runs out of quota. The index is owned by the
// instance, so independent rotators never interfere. Not safe for concurrent
// use: the enrichment worker resolves items strictly sequentially.
type Rotator struct {
	client Client
	tokens []string
	idx    int
}

// NewRotator creates a rotator over the given token pool.
func NewRotator(client Client, tokens []string) *Rotator {
	return &Rotator{client: client, tokens: tokens}
}

// PoolSize returns the number of tokens in the pool.
func (r *Rotator) PoolSize() int {
	return len(r.tokens)
}

// ProductByGTIN looks up a product by barcode, rotating tokens on quota
// exhaustion. Returns ErrExhausted after a full cycle of the pool.
func (r *Rotator) ProductByGTIN(ctx context.Context, gtin string) (*Product, error) {
	var product *Product
	err := r.withRotation(ctx, func(token string) error {
		p, err := r.client.ProductByGTIN(ctx, token, gtin)
		if err != nil {
			return err
		}
		product = p
		return nil
	})
	return product, err
}

// Search queries the catalog by free text, rotating tokens on quota
// exhaustion.
func (r *Rotator) Search(ctx context.Context, query string) ([]Product, error) {
	var products []Product
	err := r.withRotation(ctx, func(token string) error {
		ps, err := r.client.Search(ctx, token, query)
		if err != nil {
			return err
		}
		products = ps
		return nil
	})
	return products, err
}

// withRotation runs fn with the current token, advancing past quota-exhausted
// tokens until fn settles or every token has been tried once.
func (r *Rotator) withRotation(ctx context.Context, fn func(token string) error) error {
	if len(r.tokens) == 0 {
		return ErrExhausted
	}

	for tried := 0; tried < len(r.tokens); tried++ {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "cosmos: rotation canceled")
		}

		err := fn(r.tokens[r.idx])
		if !errors.Is(err, ErrQuotaExceeded) {
			return err
		}

		zap.L().Warn("cosmos token quota exceeded, rotating",
			zap.Int("token_index", r.idx),
			zap.Int("pool_size", len(r.tokens)),
		)
		r.idx = (r.idx + 1) % len(r.tokens)
	}

	return ErrExhausted
}
