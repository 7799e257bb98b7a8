package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oakline/venturesim/internal/services/game/domain"
	"github.com/oakline/venturesim/internal/services/game/storage"
)

func marshalStringList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal string list: %w", err)
	}
	return string(encoded), nil
}

func marshalConflicts(conflicts map[string]int) (string, error) {
	if conflicts == nil {
		conflicts = map[string]int{}
	}
	encoded, err := json.Marshal(conflicts)
	if err != nil {
		return "", fmt.Errorf("marshal resource conflicts: %w", err)
	}
	return string(encoded), nil
}

// PutSubmission inserts one write-once submission record.
func (s *Store) PutSubmission(ctx context.Context, submission domain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	submissionID := strings.TrimSpace(submission.ID)
	sessionID := strings.TrimSpace(submission.SessionID)
	participantID := strings.TrimSpace(submission.ParticipantID)
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if participantID == "" {
		return fmt.Errorf("participant id is required")
	}
	if !submission.Stage.Valid() {
		return fmt.Errorf("stage %q is not part of the sequence", submission.Stage)
	}

	advisors, err := marshalStringList(submission.SelectedAdvisors)
	if err != nil {
		return err
	}
	actions, err := marshalStringList(submission.SelectedActions)
	if err != nil {
		return err
	}
	sequence, err := marshalStringList(submission.SequenceNodeIDs)
	if err != nil {
		return err
	}
	conflicts, err := marshalConflicts(submission.ResourceConflicts)
	if err != nil {
		return err
	}

	forced := 0
	if submission.Forced {
		forced = 1
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO submissions (
		   id, session_id, participant_id, stage,
		   selected_advisors, selected_actions, sequence_node_ids,
		   total_cost, remaining_points, effectiveness, risk_level, risk_score,
		   total_duration, critical_path_time, resource_conflicts,
		   forced, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submissionID,
		sessionID,
		participantID,
		string(submission.Stage),
		advisors,
		actions,
		sequence,
		submission.TotalCost,
		submission.RemainingPoints,
		submission.Effectiveness,
		submission.RiskLevel,
		submission.RiskScore,
		submission.TotalDuration,
		submission.CriticalPathTime,
		conflicts,
		forced,
		toMillis(submission.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

const submissionColumns = `id, session_id, participant_id, stage,
       selected_advisors, selected_actions, sequence_node_ids,
       total_cost, remaining_points, effectiveness, risk_level, risk_score,
       total_duration, critical_path_time, resource_conflicts,
       forced, created_at`

// GetSubmission returns one submission by its unique key.
func (s *Store) GetSubmission(ctx context.Context, sessionID, participantID string, stage domain.Stage) (domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Submission{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Submission{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	participantID = strings.TrimSpace(participantID)
	if sessionID == "" || participantID == "" {
		return domain.Submission{}, fmt.Errorf("session id and participant id are required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+submissionColumns+`
		   FROM submissions
		  WHERE session_id = ? AND participant_id = ? AND stage = ?`,
		sessionID,
		participantID,
		string(stage),
	)
	return scanSubmission(row)
}

// ListSubmissionsByStage returns all submissions for one session stage.
func (s *Store) ListSubmissionsByStage(ctx context.Context, sessionID string, stage domain.Stage) ([]domain.Submission, error) {
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
		`SELECT `+submissionColumns+`
		   FROM submissions
		  WHERE session_id = ? AND stage = ?
		  ORDER BY created_at ASC, id ASC`,
		sessionID,
		string(stage),
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var submissions []domain.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return submissions, nil
}

func scanSubmission(row rowScanner) (domain.Submission, error) {
	var (
		submission domain.Submission
		stage      string
		advisors   string
		actions    string
		sequence   string
		conflicts  string
		forced     int
		createdAt  int64
	)
	err := row.Scan(
		&submission.ID,
		&submission.SessionID,
		&submission.ParticipantID,
		&stage,
		&advisors,
		&actions,
		&sequence,
		&submission.TotalCost,
		&submission.RemainingPoints,
		&submission.Effectiveness,
		&submission.RiskLevel,
		&submission.RiskScore,
		&submission.TotalDuration,
		&submission.CriticalPathTime,
		&conflicts,
		&forced,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Submission{}, storage.ErrNotFound
		}
		return domain.Submission{}, fmt.Errorf("scan submission: %w", err)
	}

	submission.Stage = domain.Stage(stage)
	if err := json.Unmarshal([]byte(advisors), &submission.SelectedAdvisors); err != nil {
		return domain.Submission{}, fmt.Errorf("unmarshal selected advisors: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &submission.SelectedActions); err != nil {
		return domain.Submission{}, fmt.Errorf("unmarshal selected actions: %w", err)
	}
	if err := json.Unmarshal([]byte(sequence), &submission.SequenceNodeIDs); err != nil {
		return domain.Submission{}, fmt.Errorf("unmarshal sequence nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(conflicts), &submission.ResourceConflicts); err != nil {
		return domain.Submission{}, fmt.Errorf("unmarshal resource conflicts: %w", err)
	}
	submission.Forced = forced != 0
	submission.CreatedAt = fromMillis(createdAt)
	return submission, nil
}
