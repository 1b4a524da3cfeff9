package realtime

import (
	"strings"

	"github.com/reviewdeck/pkg/models"
)

// Outbound event names understood by the review server.
const (
	EvJoinUserRoom     = "join_user_room"
	EvJoinTeamRoom     = "join_team_room"
	EvLeaveTeamRoom    = "leave_team_room"
	EvStartAnalysis    = "start_code_analysis"
	EvCancelAnalysis   = "cancel_code_analysis"
	EvUpdatePresence   = "update_presence"
	EvTypingStart      = "typing_start"
	EvTypingStop       = "typing_stop"
	EvMarkNotifRead    = "mark_notification_read"
	EvMarkAllNotifRead = "mark_all_notifications_read"
)

const (
	userRoom       = "user"
	teamRoomPrefix = "team:"
)

type teamRoomPayload struct {
	TeamID string `json:"team_id"`
}

// roomJoinFrame maps a recorded room membership back to the join emit that
// restores it after a reconnect.
func roomJoinFrame(room string) (event string, payload any) {
	if strings.HasPrefix(room, teamRoomPrefix) {
		return EvJoinTeamRoom, teamRoomPayload{TeamID: strings.TrimPrefix(room, teamRoomPrefix)}
	}
	return EvJoinUserRoom, nil
}

// JoinUserRoom subscribes to the connected user's private event stream.
func (m *Manager) JoinUserRoom() error {
	return m.joinRoom(userRoom, EvJoinUserRoom, nil)
}

// JoinTeamRoom subscribes to a team's shared event stream.
func (m *Manager) JoinTeamRoom(teamID string) error {
	return m.joinRoom(teamRoomPrefix+teamID, EvJoinTeamRoom, teamRoomPayload{TeamID: teamID})
}

// LeaveTeamRoom drops a team subscription; it will not be rejoined after a
// reconnect.
func (m *Manager) LeaveTeamRoom(teamID string) error {
	m.mu.Lock()
	delete(m.rooms, teamRoomPrefix+teamID)
	m.mu.Unlock()
	return m.Emit(EvLeaveTeamRoom, teamRoomPayload{TeamID: teamID})
}

// StartAnalysisPayload asks the server to begin a background analysis.
type StartAnalysisPayload struct {
	FilePath string                 `json:"file_path"`
	Content  string                 `json:"content,omitempty"`
	Options  *models.AnalyzeOptions `json:"options,omitempty"`
}

// StartAnalysis requests a server-side analysis of one file.
func (m *Manager) StartAnalysis(payload StartAnalysisPayload) error {
	return m.Emit(EvStartAnalysis, payload)
}

// CancelAnalysis asks the server to stop tracking an analysis. The local
// tracker removes the record regardless of whether the server complies.
func (m *Manager) CancelAnalysis(analysisID string) error {
	return m.Emit(EvCancelAnalysis, map[string]string{"analysis_id": analysisID})
}

// UpdatePresence reports this user's availability.
func (m *Manager) UpdatePresence(status models.PresenceStatus) error {
	return m.Emit(EvUpdatePresence, map[string]string{"status": string(status)})
}

// TypingStart signals this user started typing in the given context.
func (m *Manager) TypingStart(context string) error {
	return m.Emit(EvTypingStart, map[string]string{"context": context})
}

// TypingStop signals this user stopped typing in the given context.
func (m *Manager) TypingStop(context string) error {
	return m.Emit(EvTypingStop, map[string]string{"context": context})
}

// MarkNotificationRead tells the server one notification was read.
func (m *Manager) MarkNotificationRead(id string) error {
	return m.Emit(EvMarkNotifRead, map[string]string{"id": id})
}

// MarkAllNotificationsRead tells the server every notification was read.
func (m *Manager) MarkAllNotificationsRead() error {
	return m.Emit(EvMarkAllNotifRead, nil)
}
