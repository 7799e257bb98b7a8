package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oakline/venturesim/internal/services/game/domain"
	"github.com/oakline/venturesim/internal/services/game/storage"
)

// CountGroupsBySession returns the number of groups formed for a session.
func (s *Store) CountGroupsBySession(ctx context.Context, sessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups WHERE session_id = ?`, sessionID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return count, nil
}

// CreateGroup inserts one group and its member roster in a transaction.
func (s *Store) CreateGroup(ctx context.Context, group domain.Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	groupID := strings.TrimSpace(group.ID)
	sessionID := strings.TrimSpace(group.SessionID)
	if groupID == "" {
		return fmt.Errorf("group id is required")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if !group.TaskType.IsGroupStage() {
		return fmt.Errorf("task type %q is not a group stage", group.TaskType)
	}
	if len(group.MemberIDs) == 0 {
		return fmt.Errorf("group roster is required")
	}
	leaderID := strings.TrimSpace(group.LeaderID)
	if leaderID == "" {
		leaderID = group.MemberIDs[0]
	}

	createdAt := group.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create group: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO groups (id, session_id, name, task_type, leader_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		groupID,
		sessionID,
		strings.TrimSpace(group.Name),
		string(group.TaskType),
		leaderID,
		toMillis(createdAt),
	)
	if err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create group: %w", err)
	}

	for position, memberID := range group.MemberIDs {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO group_members (group_id, participant_id, position) VALUES (?, ?, ?)`,
			groupID,
			strings.TrimSpace(memberID),
			position,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("add group member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create group: %w", err)
	}
	return nil
}

// RetagGroupsBySession updates the task-type tag on every group of a session.
func (s *Store) RetagGroupsBySession(ctx context.Context, sessionID string, taskType domain.Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if !taskType.IsGroupStage() {
		return fmt.Errorf("task type %q is not a group stage", taskType)
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE groups SET task_type = ? WHERE session_id = ?`,
		string(taskType),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("retag groups: %w", err)
	}
	return nil
}

// ListGroupsBySession returns a session's groups with their rosters in
// member position order.
func (s *Store) ListGroupsBySession(ctx context.Context, sessionID string) ([]domain.Group, error) {
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
		`SELECT id, session_id, name, task_type, leader_id, created_at
		   FROM groups WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var (
			group     domain.Group
			taskType  string
			createdAt int64
		)
		if err := rows.Scan(&group.ID, &group.SessionID, &group.Name, &taskType, &group.LeaderID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		group.TaskType = domain.Stage(taskType)
		group.CreatedAt = fromMillis(createdAt)
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	for i := range groups {
		members, err := s.listGroupMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].MemberIDs = members
	}
	return groups, nil
}

func (s *Store) listGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT participant_id FROM group_members WHERE group_id = ? ORDER BY position ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, memberID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}
