package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oakline/venturesim/internal/id"
)

var (
	// ErrEmptySessionID indicates a missing session ID.
	ErrEmptySessionID = errors.New("session id is required")
	// ErrEmptyUserID indicates a missing user ID.
	ErrEmptyUserID = errors.New("user id is required")
)

// Participant is one user joined to a session. Join order drives group
// formation, so JoinedAt is stamped once and never updated.
type Participant struct {
	ID        string
	SessionID string
	UserID    string
	Name      string
	JoinedAt  time.Time
}

// CreateParticipantInput describes the metadata needed to join a session.
type CreateParticipantInput struct {
	SessionID string
	UserID    string
	Name      string
}

// CreateParticipant creates a participant record with a generated ID and a
// join timestamp.
func CreateParticipant(input CreateParticipantInput, now func() time.Time, idGenerator func() (string, error)) (Participant, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return Participant{}, ErrEmptySessionID
	}
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return Participant{}, ErrEmptyUserID
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = userID
	}

	participantID, err := idGenerator()
	if err != nil {
		return Participant{}, fmt.Errorf("generate participant id: %w", err)
	}

	return Participant{
		ID:        participantID,
		SessionID: sessionID,
		UserID:    userID,
		Name:      name,
		JoinedAt:  now().UTC(),
	}, nil
}
