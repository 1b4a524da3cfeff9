package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewdeck/pkg/models"
)

// noEviction disables the grace-period timer so tests control removal.
const noEviction = -1 * time.Second

func TestTracker_StartedInsertsRunningRecord(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "src/auth.go")

	rec, ok := tr.Get("x1")
	require.True(t, ok)
	assert.Equal(t, models.AnalysisRunning, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, "src/auth.go", rec.FilePath)
	assert.False(t, rec.StartedAt.IsZero())
}

func TestTracker_DuplicateStartedReplacesRecord(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "src/auth.go")
	tr.Progress("x1", 70, "")
	tr.Started("x1", "src/auth.go")

	rec, ok := tr.Get("x1")
	require.True(t, ok)
	assert.Equal(t, 0, rec.Progress, "replacement starts over at 0%")
	assert.Equal(t, 1, tr.Len(), "started is idempotent-by-replace, never additive")
}

func TestTracker_ProgressUpdatesExistingRecord(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Progress("x1", 50, "halfway")

	rec, _ := tr.Get("x1")
	assert.Equal(t, 50, rec.Progress)
	assert.Equal(t, "halfway", rec.Message)
	assert.Equal(t, models.AnalysisRunning, rec.Status)
}

func TestTracker_ProgressForUnknownIDIsNoop(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Progress("x1", 50, "")
	tr.Progress("x2", 10, "")

	assert.Equal(t, 1, tr.Len(), "unknown-id progress must not create a record")
	rec, ok := tr.Get("x1")
	require.True(t, ok)
	assert.Equal(t, 50, rec.Progress)
	_, ok = tr.Get("x2")
	assert.False(t, ok)
}

func TestTracker_ProgressClamped(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Progress("x1", 150, "")
	rec, _ := tr.Get("x1")
	assert.Equal(t, 100, rec.Progress)

	tr.Progress("x1", -5, "")
	rec, _ = tr.Get("x1")
	assert.Equal(t, 0, rec.Progress)
}

func TestTracker_CompleteStampsRecord(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Progress("x1", 80, "")
	tr.Complete("x1", []models.Suggestion{
		{ID: "s1", Type: models.SuggestionSecurity, Severity: models.SeverityHigh, Message: "fix it"},
	}, 87.5)

	rec, ok := tr.Get("x1")
	require.True(t, ok)
	assert.Equal(t, models.AnalysisComplete, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	require.NotNil(t, rec.CompletedAt)
	require.NotNil(t, rec.QualityScore)
	assert.Equal(t, 87.5, *rec.QualityScore)
	require.Len(t, rec.Suggestions, 1)
	assert.Equal(t, models.SuggestionPending, rec.Suggestions[0].Status)
}

func TestTracker_CompleteEvictsAfterGracePeriod(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: 30 * time.Millisecond})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Complete("x1", nil, 90)

	// Still visible inside the grace period.
	_, ok := tr.Get("x1")
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := tr.Get("x1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_CancelBeatsLateComplete(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Cancel("x1")
	tr.Complete("x1", nil, 95)

	_, ok := tr.Get("x1")
	assert.False(t, ok, "late complete must not resurrect a cancelled analysis")
	assert.Empty(t, tr.Active())
	assert.Empty(t, tr.Completed())
}

func TestTracker_CancelDisarmsEviction(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: 20 * time.Millisecond})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Complete("x1", nil, 90)
	tr.Cancel("x1")

	// Re-start under the same id; the old eviction timer must not fire on it.
	tr.Started("x1", "a.js")
	time.Sleep(60 * time.Millisecond)

	rec, ok := tr.Get("x1")
	require.True(t, ok)
	assert.Equal(t, models.AnalysisRunning, rec.Status)
}

func TestTracker_CancelIsIdempotent(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Cancel("x1")
	tr.Cancel("x1")

	assert.Zero(t, tr.Len())
}

func TestTracker_ErrorStaysUntilDismissed(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: 20 * time.Millisecond})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Fail("x1", "model overloaded")

	time.Sleep(60 * time.Millisecond)

	rec, ok := tr.Get("x1")
	require.True(t, ok, "errored records are never auto-evicted")
	assert.Equal(t, models.AnalysisError, rec.Status)
	assert.Equal(t, "model overloaded", rec.Error)
	require.NotNil(t, rec.ErroredAt)

	assert.True(t, tr.Dismiss("x1"))
	_, ok = tr.Get("x1")
	assert.False(t, ok)
}

func TestTracker_DismissRefusesRunningRecords(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")

	assert.False(t, tr.Dismiss("x1"))
	_, ok := tr.Get("x1")
	assert.True(t, ok)
}

func TestTracker_LifecycleSequence(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: 40 * time.Millisecond})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Progress("x1", 25, "scanning")
	tr.Progress("x1", 75, "scoring")
	tr.Complete("x1", []models.Suggestion{{ID: "s1", Message: "m"}}, 91)

	rec, ok := tr.Get("x1")
	require.True(t, ok)
	assert.Equal(t, models.AnalysisComplete, rec.Status)
	assert.Equal(t, 100, rec.Progress)

	// Disappears no earlier than the grace period.
	time.Sleep(15 * time.Millisecond)
	_, ok = tr.Get("x1")
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := tr.Get("x1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_FileQueries(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Progress("x1", 40, "")

	assert.True(t, tr.IsFileBeingAnalyzed("a.js"))
	assert.False(t, tr.IsFileBeingAnalyzed("b.js"))
	assert.Equal(t, 40, tr.FileProgress("a.js"))
	assert.Equal(t, 0, tr.FileProgress("b.js"))

	// Completed analyses no longer count as "being analyzed".
	tr.Complete("x1", nil, 80)
	assert.False(t, tr.IsFileBeingAnalyzed("a.js"))
	assert.Equal(t, 0, tr.FileProgress("a.js"))
}

func TestTracker_FileProgressLastWriteWins(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Progress("x1", 90, "")
	tr.Started("x2", "a.js")
	tr.Progress("x2", 10, "")

	assert.Equal(t, 10, tr.FileProgress("a.js"), "most recently started record wins")
}

func TestTracker_SnapshotsArePure(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Complete("x1", []models.Suggestion{{ID: "s1", Message: "m"}}, 80)

	snap := tr.Completed()
	require.Len(t, snap, 1)
	snap[0].Suggestions[0].Message = "tampered"
	snap[0].Progress = 1

	rec, _ := tr.Get("x1")
	assert.Equal(t, "m", rec.Suggestions[0].Message)
	assert.Equal(t, 100, rec.Progress)
}

func TestTracker_SetSuggestionStatus(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: noEviction})
	defer tr.Close()

	tr.Started("x1", "a.js")
	tr.Complete("x1", []models.Suggestion{{ID: "s1", Message: "m"}}, 80)

	assert.True(t, tr.SetSuggestionStatus("x1", "s1", models.SuggestionAccepted))
	rec, _ := tr.Get("x1")
	assert.Equal(t, models.SuggestionAccepted, rec.Suggestions[0].Status)

	assert.False(t, tr.SetSuggestionStatus("x1", "ghost", models.SuggestionRejected))
	assert.False(t, tr.SetSuggestionStatus("ghost", "s1", models.SuggestionRejected))
}

func TestTracker_CloseDisarmsEvictions(t *testing.T) {
	tr := NewTracker(Options{GracePeriod: 20 * time.Millisecond})

	tr.Started("x1", "a.js")
	tr.Complete("x1", nil, 90)
	tr.Close()

	time.Sleep(60 * time.Millisecond)

	// The sealed tracker keeps its final state; the timer must not act on it.
	_, ok := tr.Get("x1")
	assert.True(t, ok)
}
