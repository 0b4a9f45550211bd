package types

import "time"

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerCharacter Speaker = "character"
)

// ConversationTurn is a single utterance in a conversation transcript.
type ConversationTurn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at,omitempty"`
}

// Conversation is an ordered transcript between the author (user) and a
// character, used as extraction input.
type Conversation struct {
	ID    string             `json:"id,omitempty"`
	Turns []ConversationTurn `json:"turns"`
}

// Perspective describes how a character relates to a timeline event, which
// controls the phrasing of the derived episodic memory.
type Perspective string

const (
	PerspectiveParticipant Perspective = "participant"
	PerspectiveObserver    Perspective = "observer"
	PerspectiveInformed    Perspective = "informed"
)

// Significance grades how pivotal a timeline event is for a character.
type Significance string

const (
	SignificancePivotal Significance = "pivotal"
	SignificanceMajor   Significance = "major"
	SignificanceMinor   Significance = "minor"
)

// TimelineEvent is an authored event on a character's timeline, used as
// extraction input for event-derived memories.
type TimelineEvent struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Date        time.Time `json:"date,omitempty"`

	Significance Significance `json:"significance,omitempty"`

	// Emotions are emotion tags carried by the event; when present the
	// extractor produces a companion emotional memory.
	Emotions []string `json:"emotions,omitempty"`

	// EmotionReason optionally explains the emotional response and is
	// appended to the companion memory's phrasing.
	EmotionReason string `json:"emotion_reason,omitempty"`

	// Knowledge, when present, yields a companion semantic memory.
	Knowledge string `json:"knowledge,omitempty"`
}
