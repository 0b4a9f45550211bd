package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/scrypster/council/internal/llm"
	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/pkg/types"
)

// stubGenerator returns a canned response or error.
type stubGenerator struct {
	response string
	err      error
	calls    int
}

func (s *stubGenerator) Complete(_ context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *stubGenerator) Model() string { return "stub" }

func newRuleOnly() *Extractor {
	return New(nil, Config{})
}

func turns(pairs ...[2]string) types.Conversation {
	conv := types.Conversation{ID: "conv-1"}
	for _, p := range pairs {
		conv.Turns = append(conv.Turns, types.ConversationTurn{
			Speaker: types.Speaker(p[0]),
			Text:    p[1],
		})
	}
	return conv
}

// TestIdentityStatementBecomesCoreMemory covers the reference scenario: an
// identity sentence yields a core memory at base 0.5 + identity bonus 0.25.
func TestIdentityStatementBecomesCoreMemory(t *testing.T) {
	e := newRuleOnly()
	conv := turns(
		[2]string{"character", "I believe scientific progress must be guided by ethical considerations."},
	)

	drafts, err := e.ExtractFromConversation(context.Background(), conv, "char123", 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}

	d := drafts[0]
	if d.Category != types.CategoryCore {
		t.Errorf("category = %s, want core", d.Category)
	}
	if d.Importance < 0.75 {
		t.Errorf("importance = %f, want >= 0.75", d.Importance)
	}
	if d.Content != "I believe scientific progress must be guided by ethical considerations" {
		t.Errorf("content = %q", d.Content)
	}
	if d.CharacterID != "char123" {
		t.Errorf("characterID = %q", d.CharacterID)
	}
	if d.ID != "" || d.Embedding != nil {
		t.Error("draft must not carry an id or embedding")
	}
}

func TestEmotionalSentence(t *testing.T) {
	e := newRuleOnly()
	conv := turns(
		[2]string{"character", "The grief of losing my brother never truly left me."},
	)

	drafts, _ := e.ExtractFromConversation(context.Background(), conv, "c1", 5, 0)
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	d := drafts[0]
	if d.Category != types.CategoryEmotional {
		t.Errorf("category = %s, want emotional", d.Category)
	}
	if d.Importance < 0.64 || d.Importance > 0.66 {
		t.Errorf("importance = %f, want 0.65", d.Importance)
	}
	if d.Metadata == nil || d.Metadata.Emotional == nil || len(d.Metadata.Emotional.Emotions) == 0 {
		t.Fatal("matched emotion words should be collected in metadata")
	}
	if d.Metadata.Emotional.Emotions[0] != "grief" {
		t.Errorf("emotions = %v, want [grief]", d.Metadata.Emotional.Emotions)
	}
}

func TestCommitmentSentence(t *testing.T) {
	e := newRuleOnly()
	conv := turns(
		[2]string{"character", "I promise to guard the archive until my last breath."},
	)

	drafts, _ := e.ExtractFromConversation(context.Background(), conv, "c1", 5, 0)
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	if drafts[0].Category != types.CategoryEpisodic {
		t.Errorf("category = %s, want episodic", drafts[0].Category)
	}
	if drafts[0].Importance < 0.69 || drafts[0].Importance > 0.71 {
		t.Errorf("importance = %f, want 0.7", drafts[0].Importance)
	}
}

func TestEntityExtraction(t *testing.T) {
	e := newRuleOnly()
	conv := turns(
		[2]string{"character", "I will never return to Meridian City after what Elias Thorn did."},
	)

	drafts, _ := e.ExtractFromConversation(context.Background(), conv, "c1", 5, 0)
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	md := drafts[0].Metadata
	if md == nil || len(md.Entities) != 2 {
		t.Fatalf("entities = %+v, want 2", md)
	}
	names := []string{md.Entities[0].Name, md.Entities[1].Name}
	want := map[string]bool{"Meridian City": true, "Elias Thorn": true}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected entity %q", n)
		}
	}
}

func TestPersonalQuestionExchange(t *testing.T) {
	e := newRuleOnly()
	longReply := strings.Repeat("My answer is complicated and layered. ", 8)
	conv := turns(
		[2]string{"user", "How do you feel about the rebellion?"},
		[2]string{"character", longReply},
	)

	drafts, _ := e.ExtractFromConversation(context.Background(), conv, "c1", 10, 0)

	var exchange *types.MemoryRecord
	for _, d := range drafts {
		if d.Metadata != nil && d.Metadata.Episodic != nil {
			exchange = d
			break
		}
	}
	if exchange == nil {
		t.Fatal("expected a synthesised exchange memory")
	}
	if exchange.Importance != 0.6 {
		t.Errorf("importance = %f, want 0.6", exchange.Importance)
	}
	if exchange.Category != types.CategoryEpisodic {
		t.Errorf("category = %s, want episodic", exchange.Category)
	}
	// Reply excerpt is truncated to 150 chars plus ellipsis.
	if got := len(exchange.Metadata.Episodic.CharacterExcerpt); got > 153 {
		t.Errorf("reply excerpt length = %d, want <= 153", got)
	}
}

func TestShortSentencesDiscarded(t *testing.T) {
	e := newRuleOnly()
	conv := turns([2]string{"character", "Yes. No. I agree fully."})

	drafts, _ := e.ExtractFromConversation(context.Background(), conv, "c1", 5, 0)
	if len(drafts) != 0 {
		t.Errorf("got %d drafts, want 0 (all sentences too short)", len(drafts))
	}
}

func TestMinImportanceFilterAndTruncation(t *testing.T) {
	e := newRuleOnly()
	conv := turns(
		[2]string{"character", "I believe there is nothing beyond the veil worth chasing."},
		[2]string{"character", "The harbor market sells salted fish every third morning."},
	)

	// High floor keeps only the identity sentence.
	drafts, _ := e.ExtractFromConversation(context.Background(), conv, "c1", 5, 0.7)
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	if drafts[0].Category != types.CategoryCore {
		t.Errorf("kept draft category = %s, want core", drafts[0].Category)
	}

	// maxMemories truncates after sorting by importance.
	drafts, _ = e.ExtractFromConversation(context.Background(), conv, "c1", 1, 0)
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	if drafts[0].Category != types.CategoryCore {
		t.Error("truncation must keep the highest-importance draft")
	}
}

func TestGenerativePathParsesResponse(t *testing.T) {
	gen := &stubGenerator{response: `Here you go:
[{"content": "I distrust the Council after the purge", "importance": 0.8, "category": "core",
  "metadata": {"emotions": ["anger"], "entities": [{"name": "The Council", "relation": "enemy"}]}}]`}

	e := New(gen, Config{UseGenerative: true})
	conv := turns([2]string{"character", "short"})

	drafts, err := e.ExtractFromConversation(context.Background(), conv, "c1", 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	d := drafts[0]
	if d.Category != types.CategoryCore || d.Importance != 0.8 {
		t.Errorf("draft = %s/%f", d.Category, d.Importance)
	}
	if d.Metadata == nil || d.Metadata.Emotional == nil || len(d.Metadata.Entities) != 1 {
		t.Errorf("metadata not carried through: %+v", d.Metadata)
	}
}

// With the generative path failing, only rule-based results come back and
// every one meets the importance threshold.
func TestGenerativeFailureFallsBack(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection refused")}
	e := New(gen, Config{UseGenerative: true})
	conv := turns(
		[2]string{"character", "I am the last keeper of the northern flame."},
	)

	drafts, err := e.ExtractFromConversation(context.Background(), conv, "c1", 5, 0)
	if err != nil {
		t.Fatalf("generation failure must not surface: %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1 from fallback", len(drafts))
	}
	if drafts[0].Importance < DefaultMinImportanceThreshold {
		t.Errorf("fallback draft importance %f below threshold", drafts[0].Importance)
	}
}

func TestGenerativeMalformedJSONFallsBack(t *testing.T) {
	gen := &stubGenerator{response: "I'm sorry, I can't produce JSON today."}
	e := New(gen, Config{UseGenerative: true})
	conv := turns(
		[2]string{"character", "I value loyalty above every other virtue."},
	)

	drafts, err := e.ExtractFromConversation(context.Background(), conv, "c1", 5, 0)
	if err != nil {
		t.Fatalf("parse failure must not surface: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Category != types.CategoryCore {
		t.Fatalf("fallback drafts = %+v", drafts)
	}
}

func TestExtractFromConversationRequiresCharacter(t *testing.T) {
	e := newRuleOnly()
	_, err := e.ExtractFromConversation(context.Background(), types.Conversation{}, "", 5, 0)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateAuthorDefinedMemory(t *testing.T) {
	e := newRuleOnly()

	d, err := e.CreateAuthorDefinedMemory("c1", "Raised in the floating monasteries of Kel.", "", 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Category != types.CategoryAuthorDefined {
		t.Errorf("category = %s, want author-defined", d.Category)
	}
	if d.Importance != 0.8 {
		t.Errorf("importance = %f, want 0.8", d.Importance)
	}
	if d.Metadata == nil || d.Metadata.Source == nil || d.Metadata.Source.Kind != "author" {
		t.Errorf("provenance = %+v", d.Metadata)
	}

	if _, err := e.CreateAuthorDefinedMemory("", "content", "", 0, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing character err = %v, want ErrInvalidInput", err)
	}
	if _, err := e.CreateAuthorDefinedMemory("c1", "  ", "", 0, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing content err = %v, want ErrInvalidInput", err)
	}
}

// TestExtractFromEventPivotal covers the reference scenario: a pivotal event
// with a grief tag yields an episodic memory at 0.9 and an emotional
// companion at 1.0.
func TestExtractFromEventPivotal(t *testing.T) {
	e := newRuleOnly()
	event := &types.TimelineEvent{
		Title:        "Quantum Stabilizer Accident",
		Significance: types.SignificancePivotal,
		Emotions:     []string{"grief"},
	}

	memories, err := e.ExtractFromEvent(event, "char123", types.PerspectiveParticipant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(memories) < 2 {
		t.Fatalf("got %d memories, want >= 2", len(memories))
	}

	primary := memories[0]
	if !strings.HasPrefix(primary.Content, "I was present at Quantum Stabilizer Accident") {
		t.Errorf("primary content = %q", primary.Content)
	}
	if primary.Importance != 0.9 || primary.Category != types.CategoryEpisodic {
		t.Errorf("primary = %s/%f, want episodic/0.9", primary.Category, primary.Importance)
	}

	emotional := memories[1]
	if emotional.Importance != 1.0 || emotional.Category != types.CategoryEmotional {
		t.Errorf("emotional = %s/%f, want emotional/1.0", emotional.Category, emotional.Importance)
	}
	if emotional.Metadata == nil || emotional.Metadata.Emotional == nil {
		t.Fatal("emotional metadata missing")
	}
	// "grief" maps to the sadness template family.
	if !strings.Contains(emotional.Content, "Quantum Stabilizer Accident") {
		t.Errorf("emotional content = %q", emotional.Content)
	}
}

func TestExtractFromEventPerspectives(t *testing.T) {
	e := newRuleOnly()
	event := &types.TimelineEvent{Title: "The Siege of Varn"}

	cases := []struct {
		perspective types.Perspective
		prefix      string
	}{
		{types.PerspectiveParticipant, "I was present at"},
		{types.PerspectiveObserver, "I witnessed"},
		{types.PerspectiveInformed, "I learned about"},
	}
	for _, tc := range cases {
		memories, err := e.ExtractFromEvent(event, "c1", tc.perspective)
		if err != nil {
			t.Fatalf("%s: %v", tc.perspective, err)
		}
		if !strings.HasPrefix(memories[0].Content, tc.prefix) {
			t.Errorf("%s: content = %q, want prefix %q", tc.perspective, memories[0].Content, tc.prefix)
		}
		// Unspecified significance defaults to 0.7.
		if memories[0].Importance != 0.7 {
			t.Errorf("%s: importance = %f, want 0.7", tc.perspective, memories[0].Importance)
		}
	}
}

func TestExtractFromEventKnowledgeCompanion(t *testing.T) {
	e := newRuleOnly()
	event := &types.TimelineEvent{
		Title:        "Apprenticeship with Master Oren",
		Significance: types.SignificanceMajor,
		Knowledge:    "the forging of void-steel requires a vacuum furnace",
	}

	memories, err := e.ExtractFromEvent(event, "c1", types.PerspectiveParticipant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(memories) != 2 {
		t.Fatalf("got %d memories, want 2", len(memories))
	}
	semantic := memories[1]
	if semantic.Category != types.CategorySemantic {
		t.Errorf("category = %s, want semantic", semantic.Category)
	}
	if !strings.Contains(semantic.Content, "void-steel") {
		t.Errorf("content = %q", semantic.Content)
	}
}

func TestExtractFromEventInheritsDate(t *testing.T) {
	e := newRuleOnly()
	eventDate := time.Date(1843, 6, 12, 0, 0, 0, 0, time.UTC)
	event := &types.TimelineEvent{Title: "The Long Winter", Date: eventDate}

	memories, _ := e.ExtractFromEvent(event, "c1", types.PerspectiveParticipant)
	if !memories[0].Timestamp.Equal(eventDate) {
		t.Errorf("timestamp = %v, want event date", memories[0].Timestamp)
	}
}

func TestExtractFromEventValidation(t *testing.T) {
	e := newRuleOnly()
	if _, err := e.ExtractFromEvent(nil, "c1", types.PerspectiveParticipant); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil event err = %v", err)
	}
	if _, err := e.ExtractFromEvent(&types.TimelineEvent{Title: "X"}, "", types.PerspectiveParticipant); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing character err = %v", err)
	}
}
