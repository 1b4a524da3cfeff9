package models

import (
	"time"
)

// Analysis lifecycle models

// AnalysisStatus is the lifecycle state of one background analysis job.
type AnalysisStatus string

const (
	AnalysisRunning   AnalysisStatus = "running"
	AnalysisComplete  AnalysisStatus = "complete"
	AnalysisError     AnalysisStatus = "error"
	AnalysisCancelled AnalysisStatus = "cancelled"
)

// AnalysisRecord tracks one server-driven code analysis from start to eviction.
// Records are owned by the analysis tracker; everything handed out of the
// tracker is a copy.
type AnalysisRecord struct {
	AnalysisID   string         `json:"analysis_id"`
	FilePath     string         `json:"file_path"`
	Status       AnalysisStatus `json:"status"`
	Progress     int            `json:"progress"` // 0..100
	Message      string         `json:"message,omitempty"`
	Suggestions  []Suggestion   `json:"suggestions,omitempty"`
	QualityScore *float64       `json:"quality_score,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErroredAt    *time.Time     `json:"errored_at,omitempty"`
}

// SuggestionType categorizes a finding.
type SuggestionType string

const (
	SuggestionSecurity        SuggestionType = "security"
	SuggestionPerformance     SuggestionType = "performance"
	SuggestionMaintainability SuggestionType = "maintainability"
	SuggestionStyle           SuggestionType = "style"
)

// SuggestionSeverity orders findings by urgency.
type SuggestionSeverity string

const (
	SeverityLow      SuggestionSeverity = "low"
	SeverityMedium   SuggestionSeverity = "medium"
	SeverityHigh     SuggestionSeverity = "high"
	SeverityCritical SuggestionSeverity = "critical"
)

// SeverityRank maps a severity to its position in the total order
// critical > high > medium > low. Unknown severities rank below low.
func SeverityRank(s SuggestionSeverity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// SuggestionStatus is the user-driven review state of a suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionApplied  SuggestionStatus = "applied"
)

// Suggestion is one actionable finding produced by a completed analysis.
type Suggestion struct {
	ID           string             `json:"id"`
	Type         SuggestionType     `json:"type"`
	Severity     SuggestionSeverity `json:"severity"`
	Message      string             `json:"message"`
	Description  string             `json:"description,omitempty"`
	SuggestedFix string             `json:"suggested_fix,omitempty"`
	Confidence   float64            `json:"confidence"` // 0..1
	Line         *int               `json:"line,omitempty"`
	Column       *int               `json:"column,omitempty"`
	Status       SuggestionStatus   `json:"status"`
}

// Notification models

// NotificationType classifies an inbound notification.
type NotificationType string

const (
	NotifySuccess NotificationType = "success"
	NotifyError   NotificationType = "error"
	NotifyWarning NotificationType = "warning"
	NotifyInfo    NotificationType = "info"
	NotifyTeam    NotificationType = "team"
)

// NotificationRecord is one discrete, orderable message pushed from the server.
type NotificationRecord struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Category  string           `json:"category,omitempty"` // e.g. "code_analysis"
	Title     string           `json:"title,omitempty"`
	Message   string           `json:"message"`
	Details   string           `json:"details,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
}

// Presence models

// PresenceStatus is a user's last-reported availability.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord is the last-known presence of one user. Records are replaced
// wholesale on every update; there are no merge semantics.
type PresenceRecord struct {
	UserID   string         `json:"user_id"`
	Username string         `json:"username"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// Engine request/response models

// AnalyzeOptions narrows what the engine looks for.
type AnalyzeOptions struct {
	Types       []SuggestionType   `json:"types,omitempty"`
	MinSeverity SuggestionSeverity `json:"min_severity,omitempty"`
}

// AnalyzeResult is the engine's answer for a single file.
type AnalyzeResult struct {
	AnalysisID   string       `json:"analysis_id"`
	FilePath     string       `json:"file_path"`
	Suggestions  []Suggestion `json:"suggestions"`
	QualityScore float64      `json:"quality_score"`
}

// FileInput is one file submitted for analysis.
type FileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SuggestionFilters narrows a suggestion listing.
type SuggestionFilters struct {
	Types       []SuggestionType   `json:"types,omitempty"`
	MinSeverity SuggestionSeverity `json:"min_severity,omitempty"`
	Status      SuggestionStatus   `json:"status,omitempty"`
}

// HistoryOptions pages through past analyses.
type HistoryOptions struct {
	FilePath string `json:"file_path,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// HistoryEntry is one past analysis as reported by the engine.
type HistoryEntry struct {
	AnalysisID   string    `json:"analysis_id"`
	FilePath     string    `json:"file_path"`
	QualityScore float64   `json:"quality_score"`
	Findings     int       `json:"findings"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

// StatsReport aggregates analysis outcomes over a period.
type StatsReport struct {
	Period          string         `json:"period"`
	TotalAnalyses   int            `json:"total_analyses"`
	AvgQualityScore float64        `json:"avg_quality_score"`
	ByType          map[string]int `json:"by_type,omitempty"`
	BySeverity      map[string]int `json:"by_severity,omitempty"`
}
