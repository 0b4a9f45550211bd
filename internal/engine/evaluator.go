// Package engine orchestrates the memory lifecycle: storing embedded
// records, importance-weighted semantic retrieval, time-based decay, and
// consolidation of near-duplicate memories.
package engine

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/council/internal/vector"
	"github.com/scrypster/council/pkg/types"
)

// Relevance blend weights. Similarity dominates when the memory was retrieved
// by vector search; without a similarity signal the blend shifts to recency.
const (
	weightSimilarity = 0.50
	weightImportance = 0.30
	weightRecency    = 0.20

	weightRecencyNoSim    = 0.60
	weightImportanceNoSim = 0.40

	// recencyLambda controls how fast the recency factor falls off.
	// exp(-0.1 * age) puts a week-old memory at ~0.50 and a month-old one
	// at ~0.05.
	recencyLambda = 0.1

	// diversityThreshold is the pairwise cosine similarity above which two
	// memories are considered redundant for context assembly.
	diversityThreshold = 0.90

	// conflictSimilarityFloor is the minimum embedding similarity for two
	// memories to be compared for contradiction.
	conflictSimilarityFloor = 0.60
)

// Evaluator ranks, diversifies, and cross-checks retrieved memories. It is
// pure computation over already-fetched records and holds no I/O.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator creates an evaluator with the real clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// NewEvaluatorAt creates an evaluator with a fixed clock, for tests.
func NewEvaluatorAt(now func() time.Time) *Evaluator {
	return &Evaluator{now: now}
}

// ScoreComponents breaks a relevance score into its factors.
type ScoreComponents struct {
	Similarity float64
	Importance float64
	Recency    float64
}

// RecencyFactor returns the exponential recency factor for a memory of the
// given age in days.
func RecencyFactor(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-recencyLambda * ageDays)
}

// EvaluateMemories assigns a relevance score to every record and returns the
// slice sorted by score descending. A record's SemanticSimilarity is used
// when set; records that arrived without one (listing paths, zero vectors)
// are scored on recency and importance alone so both kinds can be ranked in
// one pass.
func (ev *Evaluator) EvaluateMemories(memories []*types.MemoryRecord) []*types.MemoryRecord {
	now := ev.now()
	for _, m := range memories {
		m.Score = ev.score(m, now)
	}
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Score > memories[j].Score
	})
	return memories
}

func (ev *Evaluator) score(m *types.MemoryRecord, now time.Time) float64 {
	recency := RecencyFactor(m.AgeDays(now))
	if m.SemanticSimilarity > 0 {
		return weightSimilarity*m.SemanticSimilarity +
			weightImportance*m.Importance +
			weightRecency*recency
	}
	return weightRecencyNoSim*recency + weightImportanceNoSim*m.Importance
}

// Distribution reserves result slots per category before greedy diversity
// selection fills the rest. A typical context-assembly distribution
// guarantees one core and one emotional memory when the character has them.
type Distribution map[types.Category]int

// SelectDiverseMemories picks up to limit memories, greedily taking the
// highest-scored record whose embedding is not near-duplicate with an
// already-selected one. A non-nil distribution first reserves slots per
// category, filled with each category's best-scored members. When the
// diversity constraint cannot fill the quota, the remaining slots are filled
// with the skipped records in score order, so the caller always gets
// min(limit, len(memories)) results.
//
// The input must already be sorted by score descending (EvaluateMemories
// output). Records without embeddings are never considered redundant.
func (ev *Evaluator) SelectDiverseMemories(memories []*types.MemoryRecord, limit int, dist Distribution) []*types.MemoryRecord {
	if limit <= 0 || len(memories) == 0 {
		return nil
	}
	if len(memories) <= limit {
		return memories
	}

	selected := make([]*types.MemoryRecord, 0, limit)
	taken := make(map[*types.MemoryRecord]bool)

	// Reserved category slots are filled first, in score order per
	// category, ignoring the diversity constraint so a guaranteed category
	// cannot be crowded out by its own near-duplicates elsewhere.
	if len(dist) > 0 {
		remaining := make(Distribution, len(dist))
		for cat, n := range dist {
			remaining[cat] = n
		}
		for _, m := range memories {
			if len(selected) == limit {
				break
			}
			if remaining[m.Category] <= 0 {
				continue
			}
			remaining[m.Category]--
			selected = append(selected, m)
			taken[m] = true
		}
	}

	var skipped []*types.MemoryRecord
	for _, m := range memories {
		if len(selected) == limit {
			break
		}
		if taken[m] {
			continue
		}
		if isRedundant(m, selected) {
			skipped = append(skipped, m)
			continue
		}
		selected = append(selected, m)
		taken[m] = true
	}

	for _, m := range skipped {
		if len(selected) == limit {
			break
		}
		selected = append(selected, m)
	}
	return selected
}

func isRedundant(m *types.MemoryRecord, selected []*types.MemoryRecord) bool {
	if len(m.Embedding) == 0 {
		return false
	}
	for _, s := range selected {
		if len(s.Embedding) == 0 {
			continue
		}
		if vector.Cosine(m.Embedding, s.Embedding) >= diversityThreshold {
			return true
		}
	}
	return false
}

// negationMarkers signal an asserted-vs-denied mismatch between two memories
// about the same subject.
var negationMarkers = []string{
	"not ", "never ", "no longer ", "n't ", "refuse", "stopped ",
}

// DetectMemoryConflicts annotates pairs of memories that are about the same
// subject (embedding similarity above the floor) but phrased with opposing
// polarity. Detection is advisory: conflicting memories stay in the result
// set with Metadata.Conflict set on both sides, and the authoring workflow
// decides what to do with them.
func (ev *Evaluator) DetectMemoryConflicts(memories []*types.MemoryRecord) int {
	conflicts := 0
	for i := 0; i < len(memories); i++ {
		for j := i + 1; j < len(memories); j++ {
			a, b := memories[i], memories[j]
			if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
				continue
			}
			sim := vector.Cosine(a.Embedding, b.Embedding)
			if sim < conflictSimilarityFloor || sim >= diversityThreshold {
				// Near-duplicates are consolidation's concern, not a
				// contradiction.
				continue
			}
			if !opposingPolarity(a.Content, b.Content) {
				continue
			}
			markConflict(a, b.ID, sim)
			markConflict(b, a.ID, sim)
			conflicts++
		}
	}
	return conflicts
}

func opposingPolarity(a, b string) bool {
	return hasNegation(a) != hasNegation(b)
}

func hasNegation(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range negationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func markConflict(m *types.MemoryRecord, withID string, sim float64) {
	m.EnsureMetadata().Conflict = &types.ConflictInfo{
		WithID:     withID,
		Similarity: sim,
		Reason:     "same subject with opposing polarity",
	}
}

// DecayedImportance returns the importance of a memory after daysPassed days
// of erosion at its decay rate, clamped at zero. Core memories are exempt.
func DecayedImportance(m *types.MemoryRecord, daysPassed float64) float64 {
	if m.IsCore() || daysPassed <= 0 {
		return m.Importance
	}
	decayed := m.Importance - m.DecayRate*daysPassed
	if decayed < 0 {
		return 0
	}
	return decayed
}
