package extractor

import (
	"regexp"
	"strings"

	"github.com/scrypster/council/pkg/types"
)

// Heuristic vocabulary for the rule-based path. Phrase matching is
// case-insensitive against the lowercased sentence.
var (
	identityPhrases = []string{
		"i am", "i'm", "i believe", "i value", "i always", "i never",
		"my purpose", "my goal", "i stand for",
	}

	emotionWords = []string{
		"love", "hate", "fear", "afraid", "happy", "joy", "sad", "grief",
		"angry", "furious", "terrified", "excited", "proud", "ashamed",
		"guilty", "lonely", "hopeful", "despair", "regret",
	}

	commitmentPhrases = []string{"i will", "i promise"}

	personalQuestionPhrases = []string{
		"you feel", "your opinion", "you think", "your experience",
		"you remember",
	}

	// entityPattern matches capitalised bigrams: "Elias Thorn", "Meridian City".
	entityPattern = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)
)

// Importance bonuses applied on top of the 0.5 base score.
const (
	ruleBaseImportance  = 0.5
	identityBonus       = 0.25
	emotionBonus        = 0.15
	commitmentBonus     = 0.2
	exchangeImportance  = 0.6
	exchangeUserLimit   = 100
	exchangeReplyLimit  = 150
	minSentenceLength   = 15
	sentenceSplitLength = 10
)

// extractRuleBased derives drafts deterministically from a transcript.
//
// Character-authored sentences are scored by heuristic bonuses: an identity
// phrase marks the sentence core, an emotional word marks it emotional, a
// commitment phrase marks it episodic. A sentence qualifies only when the
// combined importance reaches the configured threshold. Separately, every
// user turn that asks the character a personal question and is immediately
// followed by a character reply yields one episodic exchange memory.
func (e *Extractor) extractRuleBased(conv types.Conversation, characterID string) []*types.MemoryRecord {
	var drafts []*types.MemoryRecord

	for _, turn := range conv.Turns {
		if turn.Speaker != types.SpeakerCharacter {
			continue
		}
		for _, sentence := range splitSentences(turn.Text) {
			if d := e.scoreSentence(sentence, characterID, conv.ID); d != nil {
				drafts = append(drafts, d)
			}
		}
	}

	drafts = append(drafts, e.extractExchanges(conv, characterID)...)
	return drafts
}

// scoreSentence applies the heuristic bonuses to one character sentence and
// returns a draft when it qualifies, nil otherwise.
func (e *Extractor) scoreSentence(sentence, characterID, convID string) *types.MemoryRecord {
	trimmed := strings.TrimSpace(sentence)
	if len(trimmed) < minSentenceLength {
		return nil
	}

	lower := strings.ToLower(trimmed)
	importance := ruleBaseImportance
	category := types.CategoryEpisodic

	var matchedEmotions []string

	if containsAny(lower, commitmentPhrases) {
		importance += commitmentBonus
		category = types.CategoryEpisodic
	}
	for _, w := range emotionWords {
		if strings.Contains(lower, w) {
			matchedEmotions = append(matchedEmotions, w)
		}
	}
	if len(matchedEmotions) > 0 {
		importance += emotionBonus
		category = types.CategoryEmotional
	}
	if containsAny(lower, identityPhrases) {
		// Identity statements outrank the other signals.
		importance += identityBonus
		category = types.CategoryCore
	}

	if importance < e.cfg.MinImportanceThreshold {
		return nil
	}

	d := e.draft(characterID, trimmed, category, importance, convID)
	if len(matchedEmotions) > 0 {
		d.EnsureMetadata().Emotional = &types.EmotionalDetail{Emotions: matchedEmotions}
	}
	if entities := extractEntities(trimmed); len(entities) > 0 {
		d.EnsureMetadata().Entities = entities
	}
	return d
}

// extractExchanges synthesises an episodic memory for each personal question
// the user asks that the character answers in the next turn.
func (e *Extractor) extractExchanges(conv types.Conversation, characterID string) []*types.MemoryRecord {
	var drafts []*types.MemoryRecord

	for i := 0; i+1 < len(conv.Turns); i++ {
		user, reply := conv.Turns[i], conv.Turns[i+1]
		if user.Speaker != types.SpeakerUser || reply.Speaker != types.SpeakerCharacter {
			continue
		}
		if !containsAny(strings.ToLower(user.Text), personalQuestionPhrases) {
			continue
		}

		question := truncate(strings.TrimSpace(user.Text), exchangeUserLimit)
		answer := truncate(strings.TrimSpace(reply.Text), exchangeReplyLimit)
		content := `When asked "` + question + `", I responded: "` + answer + `"`

		d := e.draft(characterID, content, types.CategoryEpisodic, exchangeImportance, conv.ID)
		d.EnsureMetadata().Episodic = &types.EpisodicDetail{
			UserExcerpt:      question,
			CharacterExcerpt: answer,
		}
		drafts = append(drafts, d)
	}
	return drafts
}

// splitSentences breaks text on terminal punctuation, dropping fragments too
// short to carry meaning.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	var sentences []string
	for _, p := range parts {
		if len(strings.TrimSpace(p)) > sentenceSplitLength {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// extractEntities pulls capitalised-bigram names out of a sentence.
func extractEntities(sentence string) []types.EntityRef {
	var refs []types.EntityRef
	seen := make(map[string]bool)
	for _, m := range entityPattern.FindAllString(sentence, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		refs = append(refs, types.EntityRef{Name: m})
	}
	return refs
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Categorize classifies raw memory content with the same heuristic vocabulary
// the rule-based path uses, returning the inferred category and importance.
// The store uses it to fill defaults on drafts that arrive without them.
func Categorize(content string) (types.Category, float64) {
	lower := strings.ToLower(content)
	importance := ruleBaseImportance
	category := types.CategoryEpisodic

	if containsAny(lower, commitmentPhrases) {
		importance += commitmentBonus
	}
	if containsAny(lower, emotionWords) {
		importance += emotionBonus
		category = types.CategoryEmotional
	}
	if containsAny(lower, identityPhrases) {
		importance += identityBonus
		category = types.CategoryCore
	}
	return category, types.ClampUnit(importance)
}

// truncate shortens s to at most n characters, appending an ellipsis when cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
