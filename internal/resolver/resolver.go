package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/appprecos/enrich-cli/internal/model"
	"github.com/appprecos/enrich-cli/pkg/cosmos"
	"github.com/appprecos/enrich-cli/pkg/openfoodfacts"
)

// Catalog is the read/audit slice of the store the resolver needs.
type Catalog interface {
	CanonicalByBarcode(ctx context.Context, barcode string) (*model.CanonicalProduct, error)
	CanonicalCandidates(ctx context.Context, taxCategory string, limit int) ([]model.CanonicalProduct, error)
	LatestSuccessfulLookup(ctx context.Context, rawText, taxCategory string) (*model.LookupAuditEntry, error)
	RecordLookup(ctx context.Context, entry model.LookupAuditEntry) error
}

// BarcodeAPI is the external catalog surface, satisfied by *cosmos.Rotator.
type BarcodeAPI interface {
	ProductByGTIN(ctx context.Context, gtin string) (*cosmos.Product, error)
	Search(ctx context.Context, query string) ([]cosmos.Product, error)
}

// Matcher is the generative fallback, satisfied by *Arbiter.
type Matcher interface {
	Match(ctx context.Context, rawText string, candidates []model.CanonicalProduct) (*Decision, error)
}

// Resolver runs the identity waterfall for one raw purchase line. Cheap local
// lookups come first, then paid external ones, then the generative arbiter.
// The first strategy with an answer wins.
type Resolver struct {
	catalog Catalog
	api     BarcodeAPI
	off     openfoodfacts.Client
	arbiter Matcher
	tuning  Tuning
}

// New creates a resolver. off and arbiter may be nil, in which case the
// corresponding waterfall steps are skipped.
func New(catalog Catalog, api BarcodeAPI, off openfoodfacts.Client, arbiter Matcher, tuning Tuning) *Resolver {
	if tuning.SimilarityThreshold <= 0 {
		tuning.SimilarityThreshold = DefaultTuning().SimilarityThreshold
	}
	if tuning.MaxCandidates <= 0 {
		tuning.MaxCandidates = DefaultTuning().MaxCandidates
	}
	return &Resolver{catalog: catalog, api: api, off: off, arbiter: arbiter, tuning: tuning}
}

type step struct {
	source model.LookupSource
	run    func(ctx context.Context, line model.PurchaseLine) (Outcome, error)
}

// Resolve walks the waterfall for one line. KindRateLimited propagates
// immediately without trying later steps. A returned error means a transient
// failure; the line stays retryable.
func (r *Resolver) Resolve(ctx context.Context, line model.PurchaseLine) (Outcome, error) {
	steps := []step{
		{model.SourceRegistry, r.fromRegistry},
		{model.SourceAuditReuse, r.fromAuditLog},
		{model.SourceCosmos, r.fromBarcodeLookup},
		{model.SourceFuzzySearch, r.fromFuzzySearch},
		{model.SourceOpenFoodFacts, r.fromOpenFoodFacts},
		{model.SourceGenerative, r.fromArbiter},
	}

	for _, s := range steps {
		start := time.Now()
		outcome, err := s.run(ctx, line)
		if err != nil {
			r.audit(ctx, line, s.source, Outcome{}, err, start)
			return Outcome{}, err
		}

		switch outcome.Kind {
		case KindResolved:
			r.audit(ctx, line, s.source, outcome, nil, start)
			return outcome, nil
		case KindRateLimited:
			return outcome, nil
		case KindNotFound:
			// next step
		}
	}

	r.audit(ctx, line, model.SourceNone, backlog(), nil, time.Now())
	return backlog(), nil
}

// fromRegistry reuses the canonical name of any product already resolved to
// the same barcode, in any market. Physical identity does not depend on
// where the item was sold.
func (r *Resolver) fromRegistry(ctx context.Context, line model.PurchaseLine) (Outcome, error) {
	if !line.HasBarcode() {
		return notFound(), nil
	}
	p, err := r.catalog.CanonicalByBarcode(ctx, line.Barcode)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "resolver: registry lookup")
	}
	if p == nil {
		return notFound(), nil
	}
	return resolved(p.DisplayName, line.Barcode, model.SourceRegistry), nil
}

// fromAuditLog reuses a barcode discovered for the same raw text in an
// earlier run. Only applies to barcode-less lines.
func (r *Resolver) fromAuditLog(ctx context.Context, line model.PurchaseLine) (Outcome, error) {
	if line.HasBarcode() {
		return notFound(), nil
	}
	e, err := r.catalog.LatestSuccessfulLookup(ctx, line.RawText, line.TaxCategory)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "resolver: audit lookup")
	}
	if e == nil {
		return notFound(), nil
	}
	return resolved(e.CanonicalName, e.Barcode, model.SourceAuditReuse), nil
}

func (r *Resolver) fromBarcodeLookup(ctx context.Context, line model.PurchaseLine) (Outcome, error) {
	if r.api == nil || !line.HasBarcode() {
		return notFound(), nil
	}
	p, err := r.api.ProductByGTIN(ctx, line.Barcode)
	switch {
	case errors.Is(err, cosmos.ErrExhausted):
		return rateLimited(), nil
	case errors.Is(err, cosmos.ErrNotFound):
		return notFound(), nil
	case err != nil:
		zap.L().Warn("barcode lookup failed, falling through",
			zap.String("barcode", line.Barcode),
			zap.Error(err),
		)
		return notFound(), nil
	}
	return resolved(p.Description, line.Barcode, model.SourceCosmos), nil
}

// fromFuzzySearch queries the catalog by free text, keeps candidates in the
// same fiscal category and accepts the best one at or above the similarity
// threshold. A match also supplies a barcode, promoting the line out of the
// barcode-less pool.
func (r *Resolver) fromFuzzySearch(ctx context.Context, line model.PurchaseLine) (Outcome, error) {
	if r.api == nil || line.RawText == "" {
		return notFound(), nil
	}
	products, err := r.api.Search(ctx, line.RawText)
	switch {
	case errors.Is(err, cosmos.ErrExhausted):
		return rateLimited(), nil
	case errors.Is(err, cosmos.ErrNotFound):
		return notFound(), nil
	case err != nil:
		zap.L().Warn("fuzzy search failed, falling through",
			zap.String("raw_text", line.RawText),
			zap.Error(err),
		)
		return notFound(), nil
	}

	query := r.tuning.Expand(Normalize(line.RawText))
	best := -1
	bestScore := 0.0
	for i, p := range products {
		if p.NCM.Code != line.TaxCategory {
			continue
		}
		score := Similarity(query, p.Description)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < r.tuning.SimilarityThreshold {
		return notFound(), nil
	}
	return resolved(products[best].Description, products[best].Barcode(), model.SourceFuzzySearch), nil
}

func (r *Resolver) fromOpenFoodFacts(ctx context.Context, line model.PurchaseLine) (Outcome, error) {
	if r.off == nil || !line.HasBarcode() {
		return notFound(), nil
	}
	p, err := r.off.ProductByBarcode(ctx, line.Barcode)
	switch {
	case errors.Is(err, openfoodfacts.ErrNotFound):
		return notFound(), nil
	case err != nil:
		zap.L().Warn("open food facts lookup failed, falling through",
			zap.String("barcode", line.Barcode),
			zap.Error(err),
		)
		return notFound(), nil
	}
	return resolved(p.Name, line.Barcode, model.SourceOpenFoodFacts), nil
}

// fromArbiter asks the language model to match against up to MaxCandidates
// existing names from the same fiscal category. A "same" verdict reuses the
// matched product's exact name so identities stay stable.
func (r *Resolver) fromArbiter(ctx context.Context, line model.PurchaseLine) (Outcome, error) {
	if r.arbiter == nil {
		return notFound(), nil
	}
	candidates, err := r.catalog.CanonicalCandidates(ctx, line.TaxCategory, r.tuning.MaxCandidates)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "resolver: load candidates")
	}

	decision, err := r.arbiter.Match(ctx, line.RawText, candidates)
	switch {
	case errors.Is(err, ErrMalformedDecision):
		zap.L().Warn("arbiter output unusable, falling through",
			zap.String("raw_text", line.RawText),
			zap.Error(err),
		)
		return notFound(), nil
	case err != nil:
		return Outcome{}, err
	}

	if decision.Decision == "same" {
		matched := candidates[decision.MatchedID-1]
		return resolved(matched.DisplayName, matched.Barcode, model.SourceGenerative), nil
	}
	return resolved(decision.CanonicalName, line.Barcode, model.SourceGenerative), nil
}

// audit records the attempt. Audit write failures are logged, never allowed
// to fail the resolution itself.
func (r *Resolver) audit(ctx context.Context, line model.PurchaseLine, source model.LookupSource, outcome Outcome, attemptErr error, start time.Time) {
	entry := model.LookupAuditEntry{
		MarketID:    line.MarketID,
		SourceURL:   line.SourceURL,
		RawText:     line.RawText,
		TaxCategory: line.TaxCategory,
		Source:      source,
		Success:     outcome.Kind == KindResolved,
		DurationMS:  time.Since(start).Milliseconds(),
	}
	if outcome.Kind == KindResolved {
		entry.Barcode = outcome.Barcode
		entry.CanonicalName = outcome.Name
	}
	if attemptErr != nil {
		entry.Error = attemptErr.Error()
	}
	if err := r.catalog.RecordLookup(ctx, entry); err != nil {
		zap.L().Warn("failed to record lookup audit entry", zap.Error(err))
	}
}
