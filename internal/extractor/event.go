package extractor

import (
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/pkg/types"
)

// emotionTemplates phrase the companion emotional memory per emotion family.
// %s is replaced with the event title.
var emotionTemplates = map[string][]string{
	"joy": {
		"I felt a surge of joy during %s",
		"%s filled me with happiness",
		"I still smile when I think of %s",
	},
	"sadness": {
		"I carry a deep sadness from %s",
		"%s left a wound that has not healed",
		"Thinking of %s brings the grief back",
	},
	"anger": {
		"I still burn with anger over %s",
		"%s made my blood boil",
		"I cannot forgive what happened at %s",
	},
	"fear": {
		"The terror of %s still haunts me",
		"%s taught me what real fear is",
		"I still wake from nightmares about %s",
	},
	"surprise": {
		"Nothing prepared me for %s",
		"%s changed everything I thought I knew",
		"I never saw %s coming",
	},
}

// emotionFamilies maps specific emotion tags onto the template families.
var emotionFamilies = map[string]string{
	"joy": "joy", "happiness": "joy", "delight": "joy", "relief": "joy",
	"sadness": "sadness", "grief": "sadness", "sorrow": "sadness", "loss": "sadness",
	"anger": "anger", "rage": "anger", "fury": "anger", "resentment": "anger",
	"fear": "fear", "terror": "fear", "dread": "fear", "anxiety": "fear",
	"surprise": "surprise", "shock": "surprise", "awe": "surprise",
}

// ExtractFromEvent derives memories from a timeline event.
//
// A primary episodic memory is always produced, phrased by the character's
// perspective on the event and weighted by the event's significance. When the
// event carries emotion tags, a companion emotional memory is added at
// min(primary+0.1, 1.0). When the event carries knowledge, a companion
// semantic memory is added. All memories inherit the event's date, falling
// back to now when unset.
func (e *Extractor) ExtractFromEvent(event *types.TimelineEvent, characterID string, perspective types.Perspective) ([]*types.MemoryRecord, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: event is required", storage.ErrInvalidInput)
	}
	if characterID == "" {
		return nil, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(event.Title) == "" {
		return nil, fmt.Errorf("%w: event title is required", storage.ErrInvalidInput)
	}

	formed := event.Date
	if formed.IsZero() {
		formed = e.now()
	}

	primary := e.eventDraft(event, characterID, e.primaryContent(event, perspective),
		types.CategoryEpisodic, significanceImportance(event.Significance), formed)
	memories := []*types.MemoryRecord{primary}

	if len(event.Emotions) > 0 {
		emotional := e.eventDraft(event, characterID, e.emotionalContent(event),
			types.CategoryEmotional, min(primary.Importance+0.1, 1.0), formed)
		emotional.EnsureMetadata().Emotional = &types.EmotionalDetail{
			Emotions: event.Emotions,
			Trigger:  event.Title,
		}
		memories = append(memories, emotional)
	}

	if strings.TrimSpace(event.Knowledge) != "" {
		content := fmt.Sprintf("Through %s, I came to understand: %s", event.Title, event.Knowledge)
		semantic := e.eventDraft(event, characterID, content,
			types.CategorySemantic, max(primary.Importance-0.1, 0.5), formed)
		semantic.EnsureMetadata().Semantic = &types.SemanticDetail{Knowledge: event.Knowledge}
		memories = append(memories, semantic)
	}

	return memories, nil
}

// primaryContent phrases the episodic memory from the character's vantage.
func (e *Extractor) primaryContent(event *types.TimelineEvent, perspective types.Perspective) string {
	var lead string
	switch perspective {
	case types.PerspectiveObserver:
		lead = "I witnessed " + event.Title
	case types.PerspectiveInformed:
		lead = "I learned about " + event.Title
	default: // participant
		lead = "I was present at " + event.Title
	}
	if desc := strings.TrimSpace(event.Description); desc != "" {
		return lead + ". " + desc
	}
	return lead
}

// emotionalContent picks a phrasing template for the event's strongest
// emotion family. Template choice is random when the extractor has a random
// source, otherwise the first template is used.
func (e *Extractor) emotionalContent(event *types.TimelineEvent) string {
	family := "surprise"
	for _, tag := range event.Emotions {
		if f, ok := emotionFamilies[strings.ToLower(tag)]; ok {
			family = f
			break
		}
	}

	templates := emotionTemplates[family]
	idx := 0
	if e.rng != nil {
		idx = e.rng.Intn(len(templates))
	}
	content := fmt.Sprintf(templates[idx], event.Title)

	if reason := strings.TrimSpace(event.EmotionReason); reason != "" {
		content += ", because " + reason
	}
	return content
}

// eventDraft assembles an event-derived record with shared defaults.
func (e *Extractor) eventDraft(event *types.TimelineEvent, characterID, content string, category types.Category, importance float64, formed time.Time) *types.MemoryRecord {
	return &types.MemoryRecord{
		CharacterID: characterID,
		Content:     content,
		Category:    category,
		Importance:  types.ClampUnit(importance),
		Timestamp:   formed,
		DecayRate:   category.DefaultDecayRate(),
		Metadata: &types.Metadata{
			Source: &types.Provenance{Kind: "event", Ref: event.ID},
		},
	}
}

// significanceImportance maps event significance to the primary memory's
// importance.
func significanceImportance(s types.Significance) float64 {
	switch s {
	case types.SignificancePivotal:
		return 0.9
	case types.SignificanceMajor:
		return 0.8
	case types.SignificanceMinor:
		return 0.5
	default:
		return 0.7
	}
}
