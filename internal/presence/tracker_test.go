package presence

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewdeck/pkg/models"
)

func TestTracker_UpdatePresenceReplacesWholesale(t *testing.T) {
	tr := NewTracker(Options{})
	defer tr.Close()

	first := models.PresenceRecord{
		UserID:   "u1",
		Username: "ada",
		Status:   models.PresenceOnline,
		LastSeen: time.Now(),
	}
	tr.UpdatePresence(first)

	// Second update omits the username; the record is replaced, not merged.
	second := models.PresenceRecord{
		UserID:   "u1",
		Status:   models.PresenceAway,
		LastSeen: time.Now(),
	}
	tr.UpdatePresence(second)

	got, ok := tr.Presence("u1")
	require.True(t, ok)
	assert.Equal(t, models.PresenceAway, got.Status)
	assert.Empty(t, got.Username)
}

func TestTracker_ListPresenceSorted(t *testing.T) {
	tr := NewTracker(Options{})
	defer tr.Close()

	tr.UpdatePresence(models.PresenceRecord{UserID: "u3", Status: models.PresenceOnline})
	tr.UpdatePresence(models.PresenceRecord{UserID: "u1", Status: models.PresenceBusy})
	tr.UpdatePresence(models.PresenceRecord{UserID: "u2", Status: models.PresenceOffline})

	want := []models.PresenceRecord{
		{UserID: "u1", Status: models.PresenceBusy},
		{UserID: "u2", Status: models.PresenceOffline},
		{UserID: "u3", Status: models.PresenceOnline},
	}
	if diff := cmp.Diff(want, tr.ListPresence()); diff != "" {
		t.Errorf("presence list mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_OnlineCount(t *testing.T) {
	tr := NewTracker(Options{})
	defer tr.Close()

	tr.UpdatePresence(models.PresenceRecord{UserID: "u1", Status: models.PresenceOnline})
	tr.UpdatePresence(models.PresenceRecord{UserID: "u2", Status: models.PresenceOnline})
	tr.UpdatePresence(models.PresenceRecord{UserID: "u3", Status: models.PresenceAway})

	assert.Equal(t, 2, tr.OnlineCount())
}

func TestTracker_TypingStartStop(t *testing.T) {
	tr := NewTracker(Options{TypingTTL: -1})
	defer tr.Close()

	tr.TypingStart("u1")
	tr.TypingStart("u2")
	assert.True(t, tr.IsTyping("u1"))
	assert.Equal(t, []string{"u1", "u2"}, tr.TypingUsers())

	tr.TypingStop("u1")
	assert.False(t, tr.IsTyping("u1"))
	assert.Equal(t, []string{"u2"}, tr.TypingUsers())

	// Stopping a non-typing user is a no-op.
	tr.TypingStop("ghost")
	assert.Equal(t, []string{"u2"}, tr.TypingUsers())
}

func TestTracker_TypingExpiresWithoutStop(t *testing.T) {
	tr := NewTracker(Options{TypingTTL: 20 * time.Millisecond})
	defer tr.Close()

	tr.TypingStart("u1")
	assert.True(t, tr.IsTyping("u1"))

	assert.Eventually(t, func() bool {
		return !tr.IsTyping("u1")
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_RepeatTypingStartRefreshesTTL(t *testing.T) {
	tr := NewTracker(Options{TypingTTL: 60 * time.Millisecond})
	defer tr.Close()

	tr.TypingStart("u1")
	time.Sleep(40 * time.Millisecond)
	tr.TypingStart("u1")
	time.Sleep(40 * time.Millisecond)

	// 80ms after the first start but only 40ms after the refresh.
	assert.True(t, tr.IsTyping("u1"))
}

func TestTracker_ClearDropsEverything(t *testing.T) {
	tr := NewTracker(Options{TypingTTL: -1})
	defer tr.Close()

	tr.UpdatePresence(models.PresenceRecord{UserID: "u1", Status: models.PresenceOnline})
	tr.TypingStart("u1")

	tr.Clear()

	assert.Empty(t, tr.ListPresence())
	assert.Empty(t, tr.TypingUsers())
}

func TestTracker_CloseSealsTracker(t *testing.T) {
	tr := NewTracker(Options{TypingTTL: -1})

	tr.Close()
	tr.UpdatePresence(models.PresenceRecord{UserID: "u1", Status: models.PresenceOnline})
	tr.TypingStart("u1")

	assert.Empty(t, tr.ListPresence())
	assert.False(t, tr.IsTyping("u1"))
}
