package types

import (
	"testing"
	"time"
)

// TestImportanceScaleRoundTrip verifies that the 0–1 float form and the 0–100
// persisted integer form are mutually invertible at 0.01 resolution.
func TestImportanceScaleRoundTrip(t *testing.T) {
	for n := 0; n <= 100; n++ {
		f := ImportanceFromScale(n)
		if got := ImportanceToScale(f); got != n {
			t.Errorf("round-trip %d → %f → %d", n, f, got)
		}
	}
}

// TestImportanceScaleClamps verifies out-of-range values clamp instead of
// wrapping.
func TestImportanceScaleClamps(t *testing.T) {
	if got := ImportanceToScale(1.5); got != 100 {
		t.Errorf("ImportanceToScale(1.5) = %d, want 100", got)
	}
	if got := ImportanceToScale(-0.2); got != 0 {
		t.Errorf("ImportanceToScale(-0.2) = %d, want 0", got)
	}
	if got := ImportanceFromScale(140); got != 1.0 {
		t.Errorf("ImportanceFromScale(140) = %f, want 1.0", got)
	}
}

func TestCoreCategoryNeverDecays(t *testing.T) {
	if rate := CategoryCore.DefaultDecayRate(); rate != 0 {
		t.Errorf("core decay rate = %f, want 0", rate)
	}
	for _, c := range []Category{CategoryEpisodic, CategorySemantic, CategoryProcedural, CategoryEmotional, CategoryAuthorDefined} {
		if rate := c.DefaultDecayRate(); rate <= 0 {
			t.Errorf("%s decay rate = %f, want > 0", c, rate)
		}
	}
}

func TestClampImportance(t *testing.T) {
	m := &MemoryRecord{Importance: 1.2}
	m.ClampImportance()
	if m.Importance != 1.0 {
		t.Errorf("Importance = %f, want 1.0", m.Importance)
	}

	m.Importance = -0.1
	m.ClampImportance()
	if m.Importance != 0.0 {
		t.Errorf("Importance = %f, want 0.0", m.Importance)
	}
}

func TestAgeDaysNeverNegative(t *testing.T) {
	now := time.Now()
	m := &MemoryRecord{Timestamp: now.Add(48 * time.Hour)}
	if age := m.AgeDays(now); age != 0 {
		t.Errorf("future memory age = %f, want 0", age)
	}

	m.Timestamp = now.Add(-24 * time.Hour)
	if age := m.AgeDays(now); age < 0.99 || age > 1.01 {
		t.Errorf("one-day-old memory age = %f, want ≈1", age)
	}
}

func TestCategoryValid(t *testing.T) {
	if !CategoryAuthorDefined.Valid() {
		t.Error("author-defined should be valid")
	}
	if Category("whimsy").Valid() {
		t.Error("unknown category should be invalid")
	}
}
