package orchestrator

import (
	"time"

	"github.com/oakline/venturesim/internal/services/game/domain"
)

// Event types pushed over the realtime channel.
const (
	EventTaskChanged      = "session:task:changed"
	EventSessionUpdated   = "admin:session:updated"
	EventSubmissionForced = "session:submission:forced"
)

// Event is one realtime frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Broadcaster fans events out to connected clients. Implementations must not
// block; delivery is best effort.
type Broadcaster interface {
	// BroadcastToSession delivers an event to every client in the session room.
	BroadcastToSession(sessionID string, event Event)
	// BroadcastToAdmins delivers an event to the facilitator dashboard room.
	BroadcastToAdmins(event Event)
}

// TaskChangedPayload announces a stage transition to the session room. EndsAt
// is null for stages without an auto-advance timer.
type TaskChangedPayload struct {
	SessionID     string     `json:"sessionId"`
	Task          string     `json:"task"`
	TaskStartedAt time.Time  `json:"taskStartedAt"`
	EndsAt        *time.Time `json:"endsAt"`
}

// SubmissionForcedPayload announces how many default submissions were
// synthesized at a stage cutoff.
type SubmissionForcedPayload struct {
	SessionID string `json:"sessionId"`
	Task      string `json:"task"`
	Count     int    `json:"count"`
}

// SessionRecord is the full session snapshot pushed to facilitators.
type SessionRecord struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	CurrentTask         string     `json:"currentTask"`
	TaskStartedAt       time.Time  `json:"taskStartedAt"`
	TaskEndsAt          *time.Time `json:"taskEndsAt"`
	SimulationStartedAt *time.Time `json:"simulationStartedAt"`
	SimulationEndsAt    *time.Time `json:"simulationEndsAt"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// NewSessionRecord maps a session onto its wire snapshot.
func NewSessionRecord(session domain.Session) SessionRecord {
	return SessionRecord{
		ID:                  session.ID,
		Name:                session.Name,
		Status:              session.Status.String(),
		CurrentTask:         string(session.CurrentStage),
		TaskStartedAt:       session.StageStartedAt,
		TaskEndsAt:          session.StageEndsAt,
		SimulationStartedAt: session.SimulationStartedAt,
		SimulationEndsAt:    session.SimulationEndsAt,
		CreatedAt:           session.CreatedAt,
		UpdatedAt:           session.UpdatedAt,
	}
}

func (o *Orchestrator) broadcastTaskChanged(sessionID string, stage domain.Stage, startedAt time.Time, endsAt *time.Time) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.BroadcastToSession(sessionID, Event{
		Type: EventTaskChanged,
		Payload: TaskChangedPayload{
			SessionID:     sessionID,
			Task:          string(stage),
			TaskStartedAt: startedAt,
			EndsAt:        endsAt,
		},
	})
}

func (o *Orchestrator) broadcastAdminUpdated(session domain.Session) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.BroadcastToAdmins(Event{
		Type:    EventSessionUpdated,
		Payload: NewSessionRecord(session),
	})
}

func (o *Orchestrator) broadcastSubmissionForced(sessionID string, stage domain.Stage, count int) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.BroadcastToSession(sessionID, Event{
		Type: EventSubmissionForced,
		Payload: SubmissionForcedPayload{
			SessionID: sessionID,
			Task:      string(stage),
			Count:     count,
		},
	})
}
