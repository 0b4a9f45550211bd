package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/council/internal/llm"
	"github.com/scrypster/council/pkg/types"
)

// generativeMemory is the shape each array item in the model response must
// take. Unknown fields are ignored; invalid items are skipped, not fatal.
type generativeMemory struct {
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
	Category   string  `json:"category"`
	Metadata   struct {
		Emotions []string `json:"emotions,omitempty"`
		Entities []struct {
			Name     string `json:"name"`
			Relation string `json:"relation,omitempty"`
		} `json:"entities,omitempty"`
	} `json:"metadata"`
}

// extractGenerative runs the LLM-assisted path. Failures at any stage return
// an error that the caller recovers from by falling back to rules.
func (e *Extractor) extractGenerative(ctx context.Context, conv types.Conversation, characterID string, maxMemories int) ([]*types.MemoryRecord, error) {
	prompt := buildExtractionPrompt(conv, maxMemories)

	response, err := e.gen.Complete(ctx, prompt, llm.GenerateOptions{
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	span, err := llm.ExtractJSONArray(response)
	if err != nil {
		return nil, err
	}

	var items []generativeMemory
	if err := json.Unmarshal([]byte(span), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrParse, err)
	}

	var drafts []*types.MemoryRecord
	for _, item := range items {
		content := strings.TrimSpace(item.Content)
		if content == "" || len(content) > types.MaxContentLength {
			continue
		}

		category := types.Category(item.Category)
		if !category.Valid() {
			category = types.CategoryEpisodic
		}

		importance := item.Importance
		if importance <= 0 || importance > 1 {
			importance = category.DefaultImportance()
		}

		d := e.draft(characterID, content, category, importance, conv.ID)
		if len(item.Metadata.Emotions) > 0 {
			d.EnsureMetadata().Emotional = &types.EmotionalDetail{Emotions: item.Metadata.Emotions}
		}
		for _, ent := range item.Metadata.Entities {
			if ent.Name == "" {
				continue
			}
			md := d.EnsureMetadata()
			md.Entities = append(md.Entities, types.EntityRef{Name: ent.Name, Relation: ent.Relation})
		}
		drafts = append(drafts, d)

		if len(drafts) == maxMemories {
			break
		}
	}
	return drafts, nil
}

// buildExtractionPrompt formats the transcript and the response contract.
func buildExtractionPrompt(conv types.Conversation, maxMemories int) string {
	var b strings.Builder
	b.WriteString("Extract the character's significant memories from this conversation.\n\n")
	b.WriteString("Conversation:\n")
	for _, turn := range conv.Turns {
		switch turn.Speaker {
		case types.SpeakerUser:
			b.WriteString("USER: ")
		case types.SpeakerCharacter:
			b.WriteString("CHARACTER: ")
		}
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, `
Respond with ONLY a JSON array of 1 to %d memory objects, each shaped as:
{"content": "first-person memory text", "importance": 0.0-1.0, "category": "episodic|semantic|procedural|emotional|core", "metadata": {"emotions": ["..."], "entities": [{"name": "...", "relation": "..."}]}}

No prose before or after the array.`, maxMemories)
	return b.String()
}
