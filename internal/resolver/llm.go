package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/appprecos/enrich-cli/internal/model"
	"github.com/appprecos/enrich-cli/pkg/anthropic"
)

const arbiterSystemPrompt = `You are a product catalog deduplication assistant for Brazilian supermarket receipts.
You receive one raw receipt line and a numbered list of existing canonical product names from the same fiscal category.
Decide whether the raw line is the same physical product as one of the candidates, or a new distinct product.
Products differing in brand, size, weight or flavor are distinct.
Always produce a cleaned display name: expand abbreviations, fix casing, keep Portuguese wording.
Respond with ONLY a JSON object, no prose:
{"decision": "same", "matched_id": <candidate number>, "canonical_name": "<cleaned name>"}
or
{"decision": "new", "canonical_name": "<cleaned name>"}`

// ErrMalformedDecision means the model output could not be turned into a
// usable decision. Callers treat it as no answer, not as a transient failure.
var ErrMalformedDecision = eris.New("resolver: malformed arbiter decision")

// Decision is the arbiter's structured verdict.
type Decision struct {
	Decision      string `json:"decision"`
	MatchedID     int    `json:"matched_id"`
	CanonicalName string `json:"canonical_name"`
}

// Arbiter asks a language model to match a raw receipt line against existing
// canonical names. It is the last resort of the waterfall.
type Arbiter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewArbiter creates an arbiter using the given model.
func NewArbiter(client anthropic.Client, modelName string, maxTokens int64) *Arbiter {
	return &Arbiter{client: client, model: modelName, maxTokens: maxTokens}
}

// Match returns the matched candidate (1-based index into candidates) or a
// cleaned name for a new product. Out-of-range or contradictory candidate
// references degrade to "new" rather than failing the item.
func (a *Arbiter) Match(ctx context.Context, rawText string, candidates []model.CanonicalProduct) (*Decision, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      arbiterSystemPrompt,
		Temperature: floatPtr(0),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildArbiterPrompt(rawText, candidates)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "resolver: arbiter call")
	}

	decision, err := parseDecision(resp.Text)
	if err != nil {
		return nil, err
	}

	if decision.Decision == "same" {
		if decision.MatchedID < 1 || decision.MatchedID > len(candidates) {
			zap.L().Warn("arbiter referenced unknown candidate, treating as new",
				zap.Int("matched_id", decision.MatchedID),
				zap.Int("candidates", len(candidates)),
			)
			decision.Decision = "new"
			decision.MatchedID = 0
		}
	} else {
		decision.Decision = "new"
		decision.MatchedID = 0
	}

	if strings.TrimSpace(decision.CanonicalName) == "" && decision.Decision == "new" {
		return nil, eris.Wrap(ErrMalformedDecision, "empty canonical name")
	}
	return decision, nil
}

func buildArbiterPrompt(rawText string, candidates []model.CanonicalProduct) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Raw receipt line: %q\n\n", rawText)
	if len(candidates) == 0 {
		b.WriteString("There are no existing candidates in this category.\n")
		return b.String()
	}
	b.WriteString("Existing canonical products in the same category:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.DisplayName)
	}
	return b.String()
}

// parseDecision extracts the JSON object from the model output, tolerating
// stray prose or code fences around it.
func parseDecision(text string) (*Decision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Wrapf(ErrMalformedDecision, "no JSON object in output: %.80s", text)
	}
	var d Decision
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return nil, eris.Wrapf(ErrMalformedDecision, "decode output: %v", err)
	}
	return &d, nil
}

func floatPtr(f float64) *float64 { return &f }
