// Package syncer wires the realtime channel, the event dispatcher, and the
// state stores into the single synchronized view the dashboard consumes. One
// Syncer is owned by the application root and injected wherever it is needed;
// nothing here is a process-wide singleton.
package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/analysis"
	"github.com/reviewdeck/internal/engine"
	"github.com/reviewdeck/internal/events"
	"github.com/reviewdeck/internal/notifications"
	"github.com/reviewdeck/internal/presence"
	"github.com/reviewdeck/internal/realtime"
	"github.com/reviewdeck/pkg/models"
	"github.com/reviewdeck/pkg/shared"
)

// Inbound event names pushed by the review server.
const (
	EvNotification      = "notification"
	EvTeamNotification  = "team_notification"
	EvAnalysisStarted   = "code_analysis_started"
	EvAnalysisProgress  = "code_analysis_progress"
	EvAnalysisComplete  = "code_analysis_complete"
	EvAnalysisError     = "code_analysis_error"
	EvAnalysisCancelled = "code_analysis_cancelled"
	EvPresenceUpdate    = "user_presence_update"
	EvTypingStart       = "user_typing_start"
	EvTypingStop        = "user_typing_stop"
)

// Syncer owns the state stores and keeps them consistent with the server's
// event stream.
type Syncer struct {
	channel *realtime.Manager
	engine  *engine.Client

	analyses      *analysis.Tracker
	notifications *notifications.Store
	presence      *presence.Tracker

	identity shared.Identity
	subs     []events.Subscription
}

// Options configures a Syncer.
type Options struct {
	Channel       *realtime.Manager
	Engine        *engine.Client
	Analyses      *analysis.Tracker    // optional; defaults from analysis.Options{}
	Notifications *notifications.Store // optional; defaults from notifications.Options{}
	Presence      *presence.Tracker    // optional; defaults from presence.Options{}
}

// New builds a Syncer and registers its event handlers on the channel's
// dispatcher. Call Start to connect.
func New(opts Options) *Syncer {
	s := &Syncer{
		channel:       opts.Channel,
		engine:        opts.Engine,
		analyses:      opts.Analyses,
		notifications: opts.Notifications,
		presence:      opts.Presence,
	}
	if s.analyses == nil {
		s.analyses = analysis.NewTracker(analysis.Options{})
	}
	if s.notifications == nil {
		s.notifications = notifications.NewStore(notifications.Options{})
	}
	if s.presence == nil {
		s.presence = presence.NewTracker(presence.Options{})
	}

	s.subscribe()

	// Presence and typing are ephemeral: drop them when the transport goes
	// away and let fresh events repopulate after the reconnect.
	s.channel.OnDisconnect(func(reason string) {
		s.presence.Clear()
	})

	return s
}

// subscribe registers every inbound event handler.
func (s *Syncer) subscribe() {
	d := s.channel.Dispatcher()

	s.subs = append(s.subs,
		d.On(EvNotification, s.onNotification),
		d.On(EvTeamNotification, s.onTeamNotification),
		d.On(EvAnalysisStarted, s.onAnalysisStarted),
		d.On(EvAnalysisProgress, s.onAnalysisProgress),
		d.On(EvAnalysisComplete, s.onAnalysisComplete),
		d.On(EvAnalysisError, s.onAnalysisError),
		d.On(EvAnalysisCancelled, s.onAnalysisCancelled),
		d.On(EvPresenceUpdate, s.onPresenceUpdate),
		d.On(EvTypingStart, s.onTypingStart),
		d.On(EvTypingStop, s.onTypingStop),
	)
}

// Start connects the channel and joins the user's rooms.
func (s *Syncer) Start(ctx context.Context, identity shared.Identity) error {
	s.identity = identity

	if err := s.channel.Connect(ctx, identity); err != nil {
		return err
	}

	if err := s.channel.JoinUserRoom(); err != nil {
		return err
	}
	for _, teamID := range identity.TeamIDs {
		if err := s.channel.JoinTeamRoom(teamID); err != nil {
			return err
		}
	}
	return nil
}

// Stop tears everything down: channel, subscriptions, and every timer held
// by the stores.
func (s *Syncer) Stop() {
	s.channel.Disconnect()

	d := s.channel.Dispatcher()
	for _, sub := range s.subs {
		d.Off(sub)
	}
	s.subs = nil

	s.analyses.Close()
	s.notifications.Close()
	s.presence.Close()
}

// Inbound handlers

type notificationPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Syncer) onNotification(payload json.RawMessage) {
	s.addNotification(payload, "")
}

func (s *Syncer) onTeamNotification(payload json.RawMessage) {
	s.addNotification(payload, models.NotifyTeam)
}

func (s *Syncer) addNotification(payload json.RawMessage, forcedType models.NotificationType) {
	var body notificationPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Warn().Err(err).Msg("Discarding malformed notification payload")
		return
	}

	typ := models.NotificationType(body.Type)
	if forcedType != "" {
		typ = forcedType
	}
	if typ == "" {
		typ = models.NotifyInfo
	}

	s.notifications.Add(models.NotificationRecord{
		ID:        body.ID,
		Type:      typ,
		Category:  body.Category,
		Title:     body.Title,
		Message:   body.Message,
		Details:   body.Details,
		Timestamp: body.Timestamp,
	})
}

type analysisPayload struct {
	AnalysisID   string              `json:"analysis_id"`
	FilePath     string              `json:"file_path"`
	Progress     int                 `json:"progress"`
	Message      string              `json:"message"`
	Suggestions  []models.Suggestion `json:"suggestions"`
	QualityScore float64             `json:"quality_score"`
	Error        string              `json:"error"`
}

func decodeAnalysis(payload json.RawMessage) (analysisPayload, bool) {
	var body analysisPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Warn().Err(err).Msg("Discarding malformed analysis payload")
		return body, false
	}
	if body.AnalysisID == "" {
		return body, false
	}
	return body, true
}

func (s *Syncer) onAnalysisStarted(payload json.RawMessage) {
	if body, ok := decodeAnalysis(payload); ok {
		s.analyses.Started(body.AnalysisID, body.FilePath)
	}
}

func (s *Syncer) onAnalysisProgress(payload json.RawMessage) {
	if body, ok := decodeAnalysis(payload); ok {
		s.analyses.Progress(body.AnalysisID, body.Progress, body.Message)
	}
}

func (s *Syncer) onAnalysisComplete(payload json.RawMessage) {
	if body, ok := decodeAnalysis(payload); ok {
		s.analyses.Complete(body.AnalysisID, body.Suggestions, body.QualityScore)
	}
}

func (s *Syncer) onAnalysisError(payload json.RawMessage) {
	if body, ok := decodeAnalysis(payload); ok {
		s.analyses.Fail(body.AnalysisID, body.Error)
	}
}

func (s *Syncer) onAnalysisCancelled(payload json.RawMessage) {
	if body, ok := decodeAnalysis(payload); ok {
		s.analyses.Cancel(body.AnalysisID)
	}
}

type presencePayload struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Syncer) onPresenceUpdate(payload json.RawMessage) {
	var body presencePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Warn().Err(err).Msg("Discarding malformed presence payload")
		return
	}
	s.presence.UpdatePresence(models.PresenceRecord{
		UserID:   body.UserID,
		Username: body.Username,
		Status:   models.PresenceStatus(body.Status),
		LastSeen: body.Timestamp,
	})
}

type typingPayload struct {
	UserID string `json:"user_id"`
}

func (s *Syncer) onTypingStart(payload json.RawMessage) {
	var body typingPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	s.presence.TypingStart(body.UserID)
}

func (s *Syncer) onTypingStop(payload json.RawMessage) {
	var body typingPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	s.presence.TypingStop(body.UserID)
}

// Outbound convenience operations

// StartAnalysis asks the server to analyze one file. The tracker picks the
// job up from the code_analysis_started event, keeping the server the single
// source of analysis ids.
func (s *Syncer) StartAnalysis(filePath, content string, opts *models.AnalyzeOptions) error {
	return s.channel.StartAnalysis(realtime.StartAnalysisPayload{
		FilePath: filePath,
		Content:  content,
		Options:  opts,
	})
}

// CancelAnalysis removes the record locally right away and tells the server.
// The local removal never waits on the emit: cancellation is immediate and
// idempotent even while disconnected.
func (s *Syncer) CancelAnalysis(analysisID string) error {
	s.analyses.Cancel(analysisID)
	return s.channel.CancelAnalysis(analysisID)
}

// MarkNotificationRead flips the record locally and informs the server.
func (s *Syncer) MarkNotificationRead(id string) error {
	s.notifications.MarkRead(id)
	return s.channel.MarkNotificationRead(id)
}

// MarkAllNotificationsRead flips every record locally and informs the server.
func (s *Syncer) MarkAllNotificationsRead() error {
	s.notifications.MarkAllRead()
	return s.channel.MarkAllNotificationsRead()
}

// UpdatePresence reports this user's availability.
func (s *Syncer) UpdatePresence(status models.PresenceStatus) error {
	return s.channel.UpdatePresence(status)
}

// SetSuggestionStatus applies a local accept/reject/apply transition and,
// when an engine client is configured, reports the verdict as feedback.
// The local transition is authoritative; feedback failures only log.
func (s *Syncer) SetSuggestionStatus(ctx context.Context, analysisID, suggestionID string, status models.SuggestionStatus) bool {
	ok := s.analyses.SetSuggestionStatus(analysisID, suggestionID, status)
	if !ok || s.engine == nil {
		return ok
	}

	if status == models.SuggestionAccepted || status == models.SuggestionRejected {
		if err := s.engine.SubmitFeedback(ctx, suggestionID, string(status), ""); err != nil {
			log.Warn().
				Str("suggestion_id", suggestionID).
				Err(err).
				Msg("Suggestion feedback submission failed")
		}
	}
	return ok
}

// Accessors for the read surfaces

// Analyses exposes the analysis tracker.
func (s *Syncer) Analyses() *analysis.Tracker { return s.analyses }

// Notifications exposes the notification store.
func (s *Syncer) Notifications() *notifications.Store { return s.notifications }

// Presence exposes the presence tracker.
func (s *Syncer) Presence() *presence.Tracker { return s.presence }

// Channel exposes the channel manager.
func (s *Syncer) Channel() *realtime.Manager { return s.channel }

// Engine exposes the request layer, if configured.
func (s *Syncer) Engine() *engine.Client { return s.engine }

// Snapshot is the full synchronized state served to the dashboard.
type Snapshot struct {
	Connection    realtime.Stats              `json:"connection"`
	Active        []models.AnalysisRecord     `json:"active_analyses"`
	Completed     []models.AnalysisRecord     `json:"completed_analyses"`
	Errored       []models.AnalysisRecord     `json:"errored_analyses"`
	Notifications []models.NotificationRecord `json:"notifications"`
	UnreadCount   int                         `json:"unread_count"`
	Presence      []models.PresenceRecord     `json:"presence"`
	Typing        []string                    `json:"typing"`
}

// Snapshot assembles a point-in-time copy of everything the UI renders.
func (s *Syncer) Snapshot() Snapshot {
	return Snapshot{
		Connection:    s.channel.Stats(),
		Active:        s.analyses.Active(),
		Completed:     s.analyses.Completed(),
		Errored:       s.analyses.Errored(),
		Notifications: s.notifications.List(),
		UnreadCount:   s.notifications.UnreadCount(),
		Presence:      s.presence.ListPresence(),
		Typing:        s.presence.TypingUsers(),
	}
}
