package resolver

import "github.com/appprecos/enrich-cli/internal/model"

// Kind tags the result of a resolution attempt.
type Kind int

const (
	// KindResolved means a canonical identity was found.
	KindResolved Kind = iota
	// KindNotFound means a single strategy had no answer; the waterfall
	// moves on to the next one.
	KindNotFound
	// KindRateLimited means the credential pool is exhausted. It propagates
	// immediately and stops the whole run.
	KindRateLimited
	// KindBacklog means every strategy came up empty. The item is terminal
	// until someone curates it.
	KindBacklog
)

// Outcome is the tagged result of a resolution attempt. Name, Barcode and
// Source are only meaningful when Kind is KindResolved.
type Outcome struct {
	Kind    Kind
	Name    string
	Barcode string
	Source  model.LookupSource
}

func resolved(name, barcode string, source model.LookupSource) Outcome {
	return Outcome{Kind: KindResolved, Name: name, Barcode: barcode, Source: source}
}

func notFound() Outcome {
	return Outcome{Kind: KindNotFound}
}

func rateLimited() Outcome {
	return Outcome{Kind: KindRateLimited}
}

func backlog() Outcome {
	return Outcome{Kind: KindBacklog}
}
