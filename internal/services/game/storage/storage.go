// Package storage defines the persistence interfaces consumed by the game
// service. Implementations live in subpackages; the orchestrator treats every
// call as fallible and non-fatal.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/oakline/venturesim/internal/services/game/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict on insert.
var ErrAlreadyExists = errors.New("record already exists")

// SessionStore persists cohort session records.
type SessionStore interface {
	PutSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	// UpdateSessionStage stamps the current stage, its start time and its
	// deadline. A nil endsAt clears the deadline (no auto-advance).
	UpdateSessionStage(ctx context.Context, id string, stage domain.Stage, startedAt time.Time, endsAt *time.Time) error
	// UpdateSessionClock stamps the simulation start and end and moves the
	// session to RUNNING status.
	UpdateSessionClock(ctx context.Context, id string, startedAt, endsAt time.Time) error
	UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error
}

// ParticipantStore persists session rosters.
type ParticipantStore interface {
	PutParticipant(ctx context.Context, participant domain.Participant) error
	// ListJoinedParticipants returns the roster ordered by join time.
	ListJoinedParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

// GroupStore persists collaboration groups for the group stages.
type GroupStore interface {
	CountGroupsBySession(ctx context.Context, sessionID string) (int, error)
	CreateGroup(ctx context.Context, group domain.Group) error
	// RetagGroupsBySession updates the task-type tag on every group of the
	// session without touching rosters.
	RetagGroupsBySession(ctx context.Context, sessionID string, taskType domain.Stage) error
	ListGroupsBySession(ctx context.Context, sessionID string) ([]domain.Group, error)
}

// SubmissionStore persists write-once participant submissions.
type SubmissionStore interface {
	// PutSubmission inserts a submission; ErrAlreadyExists when the
	// participant already submitted for the stage.
	PutSubmission(ctx context.Context, submission domain.Submission) error
	GetSubmission(ctx context.Context, sessionID, participantID string, stage domain.Stage) (domain.Submission, error)
	ListSubmissionsByStage(ctx context.Context, sessionID string, stage domain.Stage) ([]domain.Submission, error)
}
