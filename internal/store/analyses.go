// ABOUTME: Persistence for completed channel sentiment analyses
// ABOUTME: Rows are append-only and listed newest first

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAnalysisResult stores a completed analysis.
func (s *SQLiteStore) CreateAnalysisResult(ctx context.Context, res *ChannelAnalysisResult) error {
	if res.WorkspaceID == "" || res.ChannelID == "" {
		return errors.New("analysis result requires workspace_id and channel_id")
	}
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO channel_analysis_results
			(id, workspace_id, channel_id, thread_ts, analysis_text, message_count, hours, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		res.ID,
		res.WorkspaceID,
		res.ChannelID,
		nullString(res.ThreadTS),
		res.AnalysisText,
		res.MessageCount,
		res.Hours,
		nullString(res.ImageURL),
		formatTime(res.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting analysis result: %w", err)
	}

	s.logger.Debug("created analysis result", "id", res.ID, "channel_id", res.ChannelID, "message_count", res.MessageCount)
	return nil
}

// ListAnalysisResults returns results for the channel, newest first.
// If limit is 0 or negative, all results are returned.
func (s *SQLiteStore) ListAnalysisResults(ctx context.Context, workspaceID, channelID string, limit int) ([]*ChannelAnalysisResult, error) {
	query := `
		SELECT id, workspace_id, channel_id, thread_ts, analysis_text, message_count, hours, image_url, created_at
		FROM channel_analysis_results
		WHERE workspace_id = ? AND channel_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{workspaceID, channelID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analysis results: %w", err)
	}
	defer rows.Close()

	var out []*ChannelAnalysisResult
	for rows.Next() {
		var res ChannelAnalysisResult
		var threadTS, imageURL sql.NullString
		var createdAt string
		if err := rows.Scan(
			&res.ID,
			&res.WorkspaceID,
			&res.ChannelID,
			&threadTS,
			&res.AnalysisText,
			&res.MessageCount,
			&res.Hours,
			&imageURL,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning analysis result: %w", err)
		}
		res.ThreadTS = threadTS.String
		res.ImageURL = imageURL.String
		if res.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}
