// Package assembler composes the prompt context for a character turn:
// profile, retrieved memories, and recent dialogue, fitted into a token
// budget by truncation.
package assembler

import (
	"fmt"
	"strings"

	"github.com/scrypster/council/pkg/types"
)

// Approximate characters per token, used for budgeting without a tokenizer.
const charsPerToken = 4

// DefaultTokenBudget bounds the assembled context when the caller does not
// set one.
const DefaultTokenBudget = 2000

// Budget shares. The profile is assembled first and never truncated; the
// remaining budget splits between memories and dialogue.
const (
	memoryShare = 0.6

	// maxMemoryChars caps a single memory's contribution so one long
	// memory cannot consume the whole memory share.
	maxMemoryChars = 400
)

// Profile is the authored character sheet fed into every prompt.
type Profile struct {
	Name        string
	Description string
	Traits      []string
	VoiceNotes  string
}

// Assembler builds prompt context payloads.
type Assembler struct {
	// TokenBudget bounds the assembled context size
	// (default: DefaultTokenBudget).
	TokenBudget int
}

// New creates an assembler with the default budget.
func New() *Assembler {
	return &Assembler{TokenBudget: DefaultTokenBudget}
}

// Build composes the context block for a generation request. Memories are
// expected in relevance order; lower-ranked memories are dropped first when
// the budget runs out. Conflicting memories are kept, marked so the model
// can acknowledge the contradiction in character.
func (a *Assembler) Build(profile Profile, memories []*types.MemoryRecord, dialogue []types.ConversationTurn) string {
	budget := a.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	budgetChars := budget * charsPerToken

	var b strings.Builder
	writeProfile(&b, profile)

	remaining := budgetChars - b.Len()
	if remaining <= 0 {
		return b.String()
	}

	memoryBudget := int(float64(remaining) * memoryShare)
	writeMemories(&b, memories, memoryBudget)

	writeDialogue(&b, dialogue, budgetChars-b.Len())
	return b.String()
}

func writeProfile(b *strings.Builder, p Profile) {
	b.WriteString("You are ")
	b.WriteString(p.Name)
	b.WriteString(".\n")
	if p.Description != "" {
		b.WriteString(p.Description)
		b.WriteString("\n")
	}
	if len(p.Traits) > 0 {
		b.WriteString("Traits: ")
		b.WriteString(strings.Join(p.Traits, ", "))
		b.WriteString("\n")
	}
	if p.VoiceNotes != "" {
		b.WriteString("Voice: ")
		b.WriteString(p.VoiceNotes)
		b.WriteString("\n")
	}
}

func writeMemories(b *strings.Builder, memories []*types.MemoryRecord, budget int) {
	if len(memories) == 0 || budget <= 0 {
		return
	}

	header := "\nYour memories relevant to this conversation:\n"
	if len(header) > budget {
		return
	}
	b.WriteString(header)
	budget -= len(header)

	for _, m := range memories {
		line := "- " + truncate(m.Content, maxMemoryChars)
		if m.Metadata != nil && m.Metadata.Conflict != nil {
			line += " (you hold a conflicting recollection of this)"
		}
		line += "\n"
		if len(line) > budget {
			return
		}
		b.WriteString(line)
		budget -= len(line)
	}
}

func writeDialogue(b *strings.Builder, dialogue []types.ConversationTurn, budget int) {
	if len(dialogue) == 0 || budget <= 0 {
		return
	}

	header := "\nRecent conversation:\n"
	budget -= len(header)
	if budget <= 0 {
		return
	}

	// Recent turns matter most: fill the budget from the end backwards,
	// then emit in chronological order.
	var lines []string
	for i := len(dialogue) - 1; i >= 0; i-- {
		turn := dialogue[i]
		line := fmt.Sprintf("%s: %s\n", speakerLabel(turn.Speaker), turn.Text)
		if len(line) > budget {
			break
		}
		lines = append(lines, line)
		budget -= len(line)
	}
	if len(lines) == 0 {
		return
	}

	b.WriteString(header)
	for i := len(lines) - 1; i >= 0; i-- {
		b.WriteString(lines[i])
	}
}

func speakerLabel(s types.Speaker) string {
	if s == types.SpeakerCharacter {
		return "YOU"
	}
	return "USER"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
