package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reviewdeck/pkg/models"
)

func TestKey_Deterministic(t *testing.T) {
	filters := models.SuggestionFilters{
		Types:       []models.SuggestionType{models.SuggestionSecurity},
		MinSeverity: models.SeverityHigh,
	}

	k1 := Key("get_suggestions", "src/auth.go", filters)
	k2 := Key("get_suggestions", "src/auth.go", filters)

	assert.Equal(t, k1, k2, "identical requests must map to the same key")
}

func TestKey_DistinguishesOperationsAndArgs(t *testing.T) {
	base := Key("get_suggestions", "src/auth.go")

	assert.NotEqual(t, base, Key("get_history", "src/auth.go"))
	assert.NotEqual(t, base, Key("get_suggestions", "src/main.go"))
	assert.NotEqual(t, base, Key("get_suggestions", "src/auth.go", models.SuggestionFilters{}))
}

func TestResultCache_HitWithinTTL(t *testing.T) {
	c := New(Options{})
	now := time.Now()

	c.SetAt("k", "value", time.Minute, now)

	got, ok := c.GetAt("k", now.Add(30*time.Second))
	assert.True(t, ok)
	assert.Equal(t, "value", got)
}

func TestResultCache_MissAtExactTTLBoundary(t *testing.T) {
	c := New(Options{})
	now := time.Now()

	c.SetAt("k", "value", time.Minute, now)

	// Exactly ttl after storedAt must already miss.
	_, ok := c.GetAt("k", now.Add(time.Minute))
	assert.False(t, ok)

	// And 1ms past the boundary as well.
	c.SetAt("k", "value", time.Minute, now)
	_, ok = c.GetAt("k", now.Add(time.Minute+time.Millisecond))
	assert.False(t, ok)
}

func TestResultCache_JustBeforeTTLBoundaryHits(t *testing.T) {
	c := New(Options{})
	now := time.Now()

	c.SetAt("k", "value", time.Minute, now)

	_, ok := c.GetAt("k", now.Add(time.Minute-time.Millisecond))
	assert.True(t, ok)
}

func TestResultCache_MissOnUnknownKey(t *testing.T) {
	c := New(Options{})

	_, ok := c.Get("never-set")
	assert.False(t, ok)
}

func TestResultCache_NonPositiveTTLStoresNothing(t *testing.T) {
	c := New(Options{})

	c.Set("k", "value", 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestResultCache_Clear(t *testing.T) {
	c := New(Options{})

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestResultCache_Invalidate(t *testing.T) {
	c := New(Options{})

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Invalidate("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestResultCache_MaxSizeEvictsOldest(t *testing.T) {
	c := New(Options{MaxSize: 2})
	now := time.Now()

	c.SetAt("oldest", 1, time.Hour, now)
	c.SetAt("middle", 2, time.Hour, now.Add(time.Second))
	c.SetAt("newest", 3, time.Hour, now.Add(2*time.Second))

	_, ok := c.GetAt("oldest", now.Add(3*time.Second))
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.GetAt("middle", now.Add(3*time.Second))
	assert.True(t, ok)
	_, ok = c.GetAt("newest", now.Add(3*time.Second))
	assert.True(t, ok)
}

func TestResultCache_OverwriteRefreshesValueAndClock(t *testing.T) {
	c := New(Options{})
	now := time.Now()

	c.SetAt("k", "old", time.Minute, now)
	c.SetAt("k", "new", time.Minute, now.Add(30*time.Second))

	got, ok := c.GetAt("k", now.Add(80*time.Second))
	assert.True(t, ok, "refreshed entry should outlive the original ttl window")
	assert.Equal(t, "new", got)
}
