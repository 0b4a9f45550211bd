// Package extractor derives memory record drafts from unstructured input:
// conversation transcripts, timeline events, and direct author text.
//
// Drafts leave this package without an id or an embedding; the engine assigns
// both when the draft is stored. Conversation extraction runs a generative
// path when a text generator is configured and always has the deterministic
// rule-based path available as a fallback, so extraction never depends on a
// model server being reachable.
package extractor

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/council/internal/llm"
	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/pkg/types"
)

// DefaultMinImportanceThreshold is the combined-importance floor a sentence
// must reach before the rule-based path keeps it.
const DefaultMinImportanceThreshold = 0.4

// Config tunes extraction behaviour.
type Config struct {
	// UseGenerative enables the LLM-assisted path when a generator is set.
	UseGenerative bool

	// MinImportanceThreshold is the rule-based qualification floor
	// (default: DefaultMinImportanceThreshold).
	MinImportanceThreshold float64

	// Temperature and MaxTokens are passed to the generation collaborator.
	Temperature float64
	MaxTokens   int
}

// Extractor turns conversations, events, and author input into memory drafts.
type Extractor struct {
	gen llm.TextGenerator
	cfg Config

	// rng selects among emotional phrasing templates. Nil means the first
	// template is always used, which keeps tests deterministic.
	rng *rand.Rand

	now func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRand provides a random source for template selection.
func WithRand(rng *rand.Rand) Option {
	return func(e *Extractor) { e.rng = rng }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New creates an Extractor. gen may be nil, which disables the generative
// path regardless of cfg.UseGenerative.
func New(gen llm.TextGenerator, cfg Config, opts ...Option) *Extractor {
	if cfg.MinImportanceThreshold <= 0 {
		cfg.MinImportanceThreshold = DefaultMinImportanceThreshold
	}
	e := &Extractor{gen: gen, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractFromConversation derives up to maxMemories drafts from a transcript.
//
// The generative path is tried first when enabled; any failure there
// (network, circuit open, malformed JSON) is logged and recovered by falling
// back to the rule-based path, never surfaced to the caller. Results are
// sorted by importance descending, truncated to maxMemories, and filtered to
// importance >= minImportance.
func (e *Extractor) ExtractFromConversation(ctx context.Context, conv types.Conversation, characterID string, maxMemories int, minImportance float64) ([]*types.MemoryRecord, error) {
	if characterID == "" {
		return nil, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	if maxMemories <= 0 {
		maxMemories = 5
	}

	var drafts []*types.MemoryRecord

	if e.cfg.UseGenerative && e.gen != nil {
		generated, err := e.extractGenerative(ctx, conv, characterID, maxMemories)
		if err != nil {
			log.Printf("extractor: generative path failed, falling back to rules: %v", err)
		}
		drafts = generated
	}

	if len(drafts) == 0 {
		drafts = e.extractRuleBased(conv, characterID)
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].Importance > drafts[j].Importance
	})
	if len(drafts) > maxMemories {
		drafts = drafts[:maxMemories]
	}

	kept := drafts[:0]
	for _, d := range drafts {
		if d.Importance >= minImportance {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

// CreateAuthorDefinedMemory builds a draft directly from author input.
// Category defaults to author-defined and importance to the category default
// when out of range.
func (e *Extractor) CreateAuthorDefinedMemory(characterID, content string, category types.Category, importance float64, metadata *types.Metadata) (*types.MemoryRecord, error) {
	if characterID == "" {
		return nil, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if !category.Valid() {
		category = types.CategoryAuthorDefined
	}
	if importance <= 0 || importance > 1 {
		importance = types.CategoryAuthorDefined.DefaultImportance()
	}

	if metadata == nil {
		metadata = &types.Metadata{}
	}
	if metadata.Source == nil {
		metadata.Source = &types.Provenance{Kind: "author"}
	}

	return &types.MemoryRecord{
		CharacterID: characterID,
		Content:     content,
		Category:    category,
		Importance:  importance,
		Timestamp:   e.now(),
		DecayRate:   category.DefaultDecayRate(),
		Metadata:    metadata,
	}, nil
}

// draft assembles a conversation-derived record with shared defaults.
func (e *Extractor) draft(characterID, content string, category types.Category, importance float64, convID string) *types.MemoryRecord {
	return &types.MemoryRecord{
		CharacterID: characterID,
		Content:     content,
		Category:    category,
		Importance:  types.ClampUnit(importance),
		Timestamp:   e.now(),
		DecayRate:   category.DefaultDecayRate(),
		Metadata: &types.Metadata{
			Source: &types.Provenance{Kind: "conversation", Ref: convID},
		},
	}
}
