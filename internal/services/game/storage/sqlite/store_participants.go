package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/oakline/venturesim/internal/services/game/domain"
	"github.com/oakline/venturesim/internal/services/game/storage"
)

// PutParticipant inserts one participant record.
func (s *Store) PutParticipant(ctx context.Context, participant domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	participantID := strings.TrimSpace(participant.ID)
	sessionID := strings.TrimSpace(participant.SessionID)
	userID := strings.TrimSpace(participant.UserID)
	if participantID == "" {
		return fmt.Errorf("participant id is required")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO participants (id, session_id, user_id, name, joined_at)
		 VALUES (?, ?, ?, ?, ?)`,
		participantID,
		sessionID,
		userID,
		strings.TrimSpace(participant.Name),
		toMillis(participant.JoinedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// ListJoinedParticipants returns a session's roster ordered by join time.
func (s *Store) ListJoinedParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, session_id, user_id, name, joined_at
		   FROM participants
		  WHERE session_id = ?
		  ORDER BY joined_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var (
			participant domain.Participant
			joinedAt    int64
		)
		if err := rows.Scan(
			&participant.ID,
			&participant.SessionID,
			&participant.UserID,
			&participant.Name,
			&joinedAt,
		); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participant.JoinedAt = fromMillis(joinedAt)
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}
