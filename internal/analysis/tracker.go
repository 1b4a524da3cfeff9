// Package analysis maintains the authoritative set of in-flight and
// recently-finished code analyses, keyed by analysis id.
package analysis

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/pkg/models"
)

// DefaultGracePeriod is how long a completed record stays visible before it
// is evicted from the active set.
const DefaultGracePeriod = 5 * time.Second

// Tracker owns the analysis records. Every transition is driven by an inbound
// event or a local cancel; consumers only ever see copies.
type Tracker struct {
	mu          sync.Mutex
	records     map[string]*models.AnalysisRecord
	seq         map[string]uint64 // insertion order, for last-write-wins path queries
	nextSeq     uint64
	evictions   map[string]*time.Timer
	gracePeriod time.Duration
	closed      bool
}

// Options configures a Tracker.
type Options struct {
	GracePeriod time.Duration // default 5s; <0 disables timed eviction
}

// NewTracker creates an empty tracker.
func NewTracker(opts Options) *Tracker {
	grace := opts.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}
	return &Tracker{
		records:     make(map[string]*models.AnalysisRecord),
		seq:         make(map[string]uint64),
		evictions:   make(map[string]*time.Timer),
		gracePeriod: grace,
	}
}

// Started inserts a new running record. A duplicate started event for the
// same id overwrites the existing record: started is idempotent-by-replace,
// never additive. Any eviction armed for the old record is disarmed.
func (t *Tracker) Started(analysisID, filePath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || analysisID == "" {
		return
	}

	t.cancelEvictionLocked(analysisID)

	t.nextSeq++
	t.seq[analysisID] = t.nextSeq
	t.records[analysisID] = &models.AnalysisRecord{
		AnalysisID: analysisID,
		FilePath:   filePath,
		Status:     models.AnalysisRunning,
		Progress:   0,
		StartedAt:  time.Now(),
	}

	log.Debug().
		Str("analysis_id", analysisID).
		Str("file_path", filePath).
		Msg("Analysis started")
}

// Progress updates an existing record. A progress event for an unknown id is
// a no-op: the server may emit progress after a local cancel already removed
// the record, and that must not resurrect it.
func (t *Tracker) Progress(analysisID string, progress int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[analysisID]
	if !ok || t.closed {
		return
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	rec.Status = models.AnalysisRunning
	rec.Progress = progress
	rec.Message = message
}

// Complete marks the record done, stamps completion, and arms the grace-period
// eviction so the UI can show a finished pulse before the record disappears.
// Unknown ids are ignored; a late complete after a cancel must not revive it.
func (t *Tracker) Complete(analysisID string, suggestions []models.Suggestion, qualityScore float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[analysisID]
	if !ok || t.closed {
		return
	}

	for i := range suggestions {
		if suggestions[i].Status == "" {
			suggestions[i].Status = models.SuggestionPending
		}
	}

	now := time.Now()
	rec.Status = models.AnalysisComplete
	rec.Progress = 100
	rec.Message = ""
	rec.Suggestions = suggestions
	rec.QualityScore = &qualityScore
	rec.CompletedAt = &now

	t.cancelEvictionLocked(analysisID)
	if t.gracePeriod >= 0 {
		t.evictions[analysisID] = time.AfterFunc(t.gracePeriod, func() {
			t.evict(analysisID)
		})
	}

	log.Debug().
		Str("analysis_id", analysisID).
		Int("suggestions", len(suggestions)).
		Float64("quality_score", qualityScore).
		Msg("Analysis complete")
}

// Fail marks the record as errored. Errored records are not auto-evicted;
// they stay visible until explicitly dismissed.
func (t *Tracker) Fail(analysisID, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[analysisID]
	if !ok || t.closed {
		return
	}

	now := time.Now()
	rec.Status = models.AnalysisError
	rec.Error = errMsg
	rec.ErroredAt = &now

	log.Warn().
		Str("analysis_id", analysisID).
		Str("error", errMsg).
		Msg("Analysis failed")
}

// Cancel removes the record immediately and disarms any pending eviction for
// the id. Idempotent; serves both the server's cancelled event and a local
// client-initiated cancel. It does not stop server-side computation, it only
// stops tracking the id.
func (t *Tracker) Cancel(analysisID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelEvictionLocked(analysisID)
	delete(t.records, analysisID)
	delete(t.seq, analysisID)
}

// Dismiss removes a finished (complete or errored) record on user request.
// Running records are left alone; those go through Cancel.
func (t *Tracker) Dismiss(analysisID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[analysisID]
	if !ok || rec.Status == models.AnalysisRunning {
		return false
	}

	t.cancelEvictionLocked(analysisID)
	delete(t.records, analysisID)
	delete(t.seq, analysisID)
	return true
}

// evict is the grace-period timer callback.
func (t *Tracker) evict(analysisID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	// Only evict if the record is still the completed one the timer was armed
	// for; a duplicate started in the meantime owns the id now.
	rec, ok := t.records[analysisID]
	if !ok || rec.Status != models.AnalysisComplete {
		return
	}

	delete(t.records, analysisID)
	delete(t.seq, analysisID)
	delete(t.evictions, analysisID)
}

func (t *Tracker) cancelEvictionLocked(analysisID string) {
	if timer, ok := t.evictions[analysisID]; ok {
		timer.Stop()
		delete(t.evictions, analysisID)
	}
}

// SetSuggestionStatus applies a user-triggered accept/reject/apply transition
// to one suggestion. Local-authoritative: no server round trip involved.
func (t *Tracker) SetSuggestionStatus(analysisID, suggestionID string, status models.SuggestionStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[analysisID]
	if !ok {
		return false
	}

	for i := range rec.Suggestions {
		if rec.Suggestions[i].ID == suggestionID {
			rec.Suggestions[i].Status = status
			return true
		}
	}
	return false
}

// Get returns a copy of one record.
func (t *Tracker) Get(analysisID string) (models.AnalysisRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[analysisID]
	if !ok {
		return models.AnalysisRecord{}, false
	}
	return copyRecord(rec), true
}

// Active returns copies of all records still in the running state.
func (t *Tracker) Active() []models.AnalysisRecord {
	return t.snapshot(models.AnalysisRunning)
}

// Completed returns copies of all completed records still within their grace
// period.
func (t *Tracker) Completed() []models.AnalysisRecord {
	return t.snapshot(models.AnalysisComplete)
}

// Errored returns copies of all failed records awaiting dismissal.
func (t *Tracker) Errored() []models.AnalysisRecord {
	return t.snapshot(models.AnalysisError)
}

func (t *Tracker) snapshot(status models.AnalysisStatus) []models.AnalysisRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.AnalysisRecord, 0)
	for _, rec := range t.records {
		if rec.Status == status {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

// IsFileBeingAnalyzed reports whether any running record covers the path.
func (t *Tracker) IsFileBeingAnalyzed(filePath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range t.records {
		if rec.Status == models.AnalysisRunning && rec.FilePath == filePath {
			return true
		}
	}
	return false
}

// FileProgress returns the progress of the analysis running for the path, or
// 0 when none is running. When duplicate records cover the same path the most
// recently started one wins.
func (t *Tracker) FileProgress(filePath string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	progress := 0
	var bestSeq uint64
	for id, rec := range t.records {
		if rec.Status != models.AnalysisRunning || rec.FilePath != filePath {
			continue
		}
		if t.seq[id] >= bestSeq {
			bestSeq = t.seq[id]
			progress = rec.Progress
		}
	}
	return progress
}

// Len returns the number of tracked records across all states.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Close disarms every eviction timer and seals the tracker.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	for id, timer := range t.evictions {
		timer.Stop()
		delete(t.evictions, id)
	}
}

// copyRecord deep-copies a record so callers cannot reach tracker-owned state.
func copyRecord(rec *models.AnalysisRecord) models.AnalysisRecord {
	out := *rec
	if rec.Suggestions != nil {
		out.Suggestions = make([]models.Suggestion, len(rec.Suggestions))
		copy(out.Suggestions, rec.Suggestions)
	}
	if rec.QualityScore != nil {
		score := *rec.QualityScore
		out.QualityScore = &score
	}
	if rec.CompletedAt != nil {
		at := *rec.CompletedAt
		out.CompletedAt = &at
	}
	if rec.ErroredAt != nil {
		at := *rec.ErroredAt
		out.ErroredAt = &at
	}
	return out
}
