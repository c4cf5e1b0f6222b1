// ABOUTME: Workspace persistence for installed Slack teams
// ABOUTME: Upserts by team_id so a reinstall refreshes credentials in place

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertWorkspace creates the workspace or updates the row with the same TeamID.
func (s *SQLiteStore) UpsertWorkspace(ctx context.Context, ws *Workspace) error {
	if ws.TeamID == "" {
		return errors.New("workspace team_id is required")
	}
	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now
	}
	ws.UpdatedAt = now

	sealed, err := s.sealer.Seal(ws.BotToken)
	if err != nil {
		return fmt.Errorf("sealing bot token: %w", err)
	}

	query := `
		INSERT INTO workspaces (id, team_id, team_name, bot_user_id, bot_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(team_id) DO UPDATE SET
			team_name = excluded.team_name,
			bot_user_id = excluded.bot_user_id,
			bot_token = excluded.bot_token,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`

	var createdAt string
	err = s.db.QueryRowContext(ctx, query,
		ws.ID,
		ws.TeamID,
		ws.TeamName,
		ws.BotUserID,
		sealed,
		formatTime(ws.CreatedAt),
		formatTime(ws.UpdatedAt),
	).Scan(&ws.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("upserting workspace: %w", err)
	}
	if ws.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}

	s.logger.Debug("upserted workspace", "id", ws.ID, "team_id", ws.TeamID)
	return nil
}

// GetWorkspace retrieves a workspace by ID.
// Returns ErrNotFound if the workspace doesn't exist.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	return s.getWorkspace(ctx, "id", id)
}

// GetWorkspaceByTeamID retrieves a workspace by its Slack team ID.
// Returns ErrNotFound if the workspace doesn't exist.
func (s *SQLiteStore) GetWorkspaceByTeamID(ctx context.Context, teamID string) (*Workspace, error) {
	return s.getWorkspace(ctx, "team_id", teamID)
}

func (s *SQLiteStore) getWorkspace(ctx context.Context, column, value string) (*Workspace, error) {
	query := `
		SELECT id, team_id, team_name, bot_user_id, bot_token, created_at, updated_at
		FROM workspaces
		WHERE ` + column + ` = ?
	`

	ws, err := s.scanWorkspace(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspaces returns all workspaces ordered by team name.
func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]*Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, team_name, bot_user_id, bot_token, created_at, updated_at
		FROM workspaces
		ORDER BY team_name, team_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		ws, err := s.scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanWorkspace(row rowScanner) (*Workspace, error) {
	var ws Workspace
	var token, createdAt, updatedAt string
	if err := row.Scan(&ws.ID, &ws.TeamID, &ws.TeamName, &ws.BotUserID, &token, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if ws.BotToken, err = s.sealer.Open(token); err != nil {
		return nil, fmt.Errorf("opening bot token for team %s: %w", ws.TeamID, err)
	}
	if ws.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ws.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &ws, nil
}
