package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oakline/venturesim/internal/services/game/domain"
	"github.com/oakline/venturesim/internal/services/game/storage"
)

// PutSession inserts one session record.
func (s *Store) PutSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.Name) == "" {
		return fmt.Errorf("session name is required")
	}
	if !session.CurrentStage.Valid() {
		return fmt.Errorf("session stage %q is not part of the sequence", session.CurrentStage)
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (
		   id,
		   name,
		   status,
		   current_stage,
		   stage_started_at,
		   stage_ends_at,
		   simulation_started_at,
		   simulation_ends_at,
		   created_at,
		   updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		strings.TrimSpace(session.Name),
		session.Status.String(),
		string(session.CurrentStage),
		toMillis(session.StageStartedAt),
		toNullMillis(session.StageEndsAt),
		toNullMillis(session.SimulationStartedAt),
		toNullMillis(session.SimulationEndsAt),
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, status, current_stage, stage_started_at, stage_ends_at,
		        simulation_started_at, simulation_ends_at, created_at, updated_at
		   FROM sessions WHERE id = ?`,
		id,
	)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		session             domain.Session
		status              string
		stage               string
		stageStartedAt      int64
		stageEndsAt         sql.NullInt64
		simulationStartedAt sql.NullInt64
		simulationEndsAt    sql.NullInt64
		createdAt           int64
		updatedAt           int64
	)
	err := row.Scan(
		&session.ID,
		&session.Name,
		&status,
		&stage,
		&stageStartedAt,
		&stageEndsAt,
		&simulationStartedAt,
		&simulationEndsAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}

	session.Status = domain.ParseSessionStatus(status)
	session.CurrentStage = domain.Stage(stage)
	session.StageStartedAt = fromMillis(stageStartedAt)
	session.StageEndsAt = fromNullMillis(stageEndsAt)
	session.SimulationStartedAt = fromNullMillis(simulationStartedAt)
	session.SimulationEndsAt = fromNullMillis(simulationEndsAt)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}

// UpdateSessionStage stamps the current stage, its start time and deadline.
func (s *Store) UpdateSessionStage(ctx context.Context, id string, stage domain.Stage, startedAt time.Time, endsAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if !stage.Valid() {
		return fmt.Errorf("stage %q is not part of the sequence", stage)
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions
		    SET current_stage = ?, stage_started_at = ?, stage_ends_at = ?, updated_at = ?
		  WHERE id = ?`,
		string(stage),
		toMillis(startedAt),
		toNullMillis(endsAt),
		toMillis(startedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("update session stage: %w", err)
	}
	return requireRow(result)
}

// UpdateSessionClock stamps the simulation window and marks the session RUNNING.
func (s *Store) UpdateSessionClock(ctx context.Context, id string, startedAt, endsAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions
		    SET status = ?, simulation_started_at = ?, simulation_ends_at = ?, updated_at = ?
		  WHERE id = ?`,
		domain.SessionStatusRunning.String(),
		toMillis(startedAt),
		toMillis(endsAt),
		toMillis(startedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("update session clock: %w", err)
	}
	return requireRow(result)
}

// UpdateSessionStatus applies a facilitator status override.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if status == domain.SessionStatusUnspecified {
		return fmt.Errorf("session status is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status.String(),
		time.Now().UTC().UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
