package domain

import (
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateSessionDefaults(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	session, err := CreateSession(CreateSessionInput{Name: "  Spring Cohort "}, fixedClock(now), func() (string, error) {
		return "session-1", nil
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "session-1" {
		t.Fatalf("expected generated id, got %q", session.ID)
	}
	if session.Name != "Spring Cohort" {
		t.Fatalf("expected trimmed name, got %q", session.Name)
	}
	if session.Status != SessionStatusPending {
		t.Fatalf("expected pending status, got %v", session.Status)
	}
	if session.CurrentStage != StageLobby {
		t.Fatalf("expected lobby stage, got %q", session.CurrentStage)
	}
	if !session.StageStartedAt.Equal(now) {
		t.Fatalf("expected stage started at %v, got %v", now, session.StageStartedAt)
	}
	if session.SimulationStartedAt != nil || session.SimulationEndsAt != nil {
		t.Fatal("expected no simulation stamps before start")
	}
}

func TestCreateSessionRequiresName(t *testing.T) {
	_, err := CreateSession(CreateSessionInput{Name: "   "}, nil, nil)
	if !errors.Is(err, ErrEmptySessionName) {
		t.Fatalf("expected empty name error, got %v", err)
	}
}

func TestSessionStatusRoundTrip(t *testing.T) {
	statuses := []SessionStatus{
		SessionStatusPending,
		SessionStatusRunning,
		SessionStatusPaused,
		SessionStatusCompleted,
	}
	for _, status := range statuses {
		if got := ParseSessionStatus(status.String()); got != status {
			t.Fatalf("expected %v to round-trip, got %v", status, got)
		}
	}
	if got := ParseSessionStatus("bogus"); got != SessionStatusUnspecified {
		t.Fatalf("expected unspecified for unknown status, got %v", got)
	}
}

func TestCreateParticipantJoinOrderFields(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC)
	participant, err := CreateParticipant(CreateParticipantInput{
		SessionID: "session-1",
		UserID:    "user-7",
	}, fixedClock(now), func() (string, error) { return "participant-1", nil })
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	if participant.Name != "user-7" {
		t.Fatalf("expected name to default to user id, got %q", participant.Name)
	}
	if !participant.JoinedAt.Equal(now) {
		t.Fatalf("expected joined at %v, got %v", now, participant.JoinedAt)
	}
}

func TestCreateParticipantValidation(t *testing.T) {
	if _, err := CreateParticipant(CreateParticipantInput{UserID: "u"}, nil, nil); !errors.Is(err, ErrEmptySessionID) {
		t.Fatalf("expected session id error, got %v", err)
	}
	if _, err := CreateParticipant(CreateParticipantInput{SessionID: "s"}, nil, nil); !errors.Is(err, ErrEmptyUserID) {
		t.Fatalf("expected user id error, got %v", err)
	}
}

func TestChunkParticipants(t *testing.T) {
	participants := make([]Participant, 7)
	for i := range participants {
		participants[i] = Participant{ID: string(rune('a' + i))}
	}

	chunks := ChunkParticipants(participants, 3)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 3 || len(chunks[1]) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("unexpected chunk sizes: %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunks[0][0].ID != "a" || chunks[2][0].ID != "g" {
		t.Fatal("expected join order preserved across chunks")
	}

	if chunks := ChunkParticipants(nil, 4); chunks != nil {
		t.Fatalf("expected no chunks for empty roster, got %d", len(chunks))
	}
}

func TestChunkParticipantsDefaultSize(t *testing.T) {
	participants := make([]Participant, 5)
	chunks := ChunkParticipants(participants, 0)
	if len(chunks) != 2 {
		t.Fatalf("expected default chunk size %d to yield 2 chunks, got %d", DefaultGroupSize, len(chunks))
	}
	if len(chunks[0]) != DefaultGroupSize {
		t.Fatalf("expected first chunk of %d, got %d", DefaultGroupSize, len(chunks[0]))
	}
}
