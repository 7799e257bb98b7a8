package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/oakline/venturesim/internal/id"
)

// Submission is one participant's answer for a stage family, persisted with
// the server-computed metrics alongside the raw selection. Submissions are
// write-once; force submit may create a zeroed default record on timeout.
type Submission struct {
	ID            string
	SessionID     string
	ParticipantID string
	Stage         Stage

	// Crisis-response selection.
	SelectedAdvisors []string
	SelectedActions  []string

	// Reactivation ordering.
	SequenceNodeIDs []string

	// Derived metrics. Which fields are populated depends on the stage.
	TotalCost         int
	RemainingPoints   int
	Effectiveness     float64
	RiskLevel         string
	RiskScore         float64
	TotalDuration     float64
	CriticalPathTime  float64
	ResourceConflicts map[string]int

	// Forced marks defaults synthesized for stragglers at stage cutoff.
	Forced    bool
	CreatedAt time.Time
}

// CreateSubmissionInput describes the identity of a new submission. Selection
// fields and metrics are filled in by the caller after validation.
type CreateSubmissionInput struct {
	SessionID     string
	ParticipantID string
	Stage         Stage
}

// CreateSubmission creates a submission shell with a generated ID and a
// creation timestamp.
func CreateSubmission(input CreateSubmissionInput, now func() time.Time, idGenerator func() (string, error)) (Submission, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return Submission{}, ErrEmptySessionID
	}
	participantID := strings.TrimSpace(input.ParticipantID)
	if participantID == "" {
		return Submission{}, fmt.Errorf("participant id is required")
	}
	if !input.Stage.Valid() {
		return Submission{}, fmt.Errorf("stage %q is not part of the sequence", input.Stage)
	}

	submissionID, err := idGenerator()
	if err != nil {
		return Submission{}, fmt.Errorf("generate submission id: %w", err)
	}

	return Submission{
		ID:            submissionID,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Stage:         input.Stage,
		CreatedAt:     now().UTC(),
	}, nil
}
