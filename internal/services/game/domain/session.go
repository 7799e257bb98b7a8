package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oakline/venturesim/internal/id"
)

// SessionStatus describes the lifecycle state of a cohort session.
type SessionStatus int

const (
	// SessionStatusUnspecified represents an invalid session status value.
	SessionStatusUnspecified SessionStatus = iota
	// SessionStatusPending indicates the cohort is gathering in the lobby.
	SessionStatusPending
	// SessionStatusRunning indicates the simulation clock is running.
	SessionStatusRunning
	// SessionStatusPaused indicates a facilitator paused the session.
	SessionStatusPaused
	// SessionStatusCompleted indicates the session has finished.
	SessionStatusCompleted
)

// String returns the wire representation of the status.
func (s SessionStatus) String() string {
	switch s {
	case SessionStatusPending:
		return "pending"
	case SessionStatusRunning:
		return "running"
	case SessionStatusPaused:
		return "paused"
	case SessionStatusCompleted:
		return "completed"
	default:
		return "unspecified"
	}
}

// ParseSessionStatus maps a wire status string back to a SessionStatus.
func ParseSessionStatus(value string) SessionStatus {
	switch strings.TrimSpace(value) {
	case "pending":
		return SessionStatusPending
	case "running":
		return SessionStatusRunning
	case "paused":
		return SessionStatusPaused
	case "completed":
		return SessionStatusCompleted
	default:
		return SessionStatusUnspecified
	}
}

var (
	// ErrEmptySessionName indicates a missing session name.
	ErrEmptySessionName = errors.New("session name is required")
)

// Session represents one cohort's run through the fixed stage sequence.
type Session struct {
	ID           string
	Name         string
	Status       SessionStatus
	CurrentStage Stage
	// StageStartedAt is stamped every time the orchestrator enters a stage.
	StageStartedAt time.Time
	// StageEndsAt is nil when the current stage has no auto-advance timer.
	StageEndsAt *time.Time
	// SimulationStartedAt and SimulationEndsAt bracket the whole run. Both are
	// nil until the simulation is started. The end stamp is cosmetic; stage
	// progression is driven by per-stage timers.
	SimulationStartedAt *time.Time
	SimulationEndsAt    *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CreateSessionInput describes the metadata needed to create a session.
type CreateSessionInput struct {
	Name string
}

// CreateSession creates a new session with a generated ID and timestamps.
// The session starts in the lobby with PENDING status.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Session{}, ErrEmptySessionName
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:             sessionID,
		Name:           name,
		Status:         SessionStatusPending,
		CurrentStage:   StageLobby,
		StageStartedAt: createdAt,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}, nil
}
