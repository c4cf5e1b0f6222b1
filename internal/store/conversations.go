// ABOUTME: Conversation record persistence with idempotent ingest
// ABOUTME: Uniqueness on (workspace, channel, message_ts) turns re-ingest into a no-op

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func prepareRecord(rec *ConversationRecord) error {
	if rec.WorkspaceID == "" || rec.ChannelID == "" || rec.MessageTS == "" {
		return errors.New("conversation record requires workspace_id, channel_id and message_ts")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Kind == "" {
		rec.Kind = KindText
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return nil
}

// EnsureConversationRecord inserts rec unless the message is already stored.
// An existing row is left untouched and false is returned.
func (s *SQLiteStore) EnsureConversationRecord(ctx context.Context, rec *ConversationRecord) (bool, error) {
	if err := prepareRecord(rec); err != nil {
		return false, err
	}

	query := `
		INSERT INTO conversation_records
			(id, workspace_id, channel_id, thread_ts, message_ts, user_id, message_text, kind, is_bot, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, channel_id, message_ts) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.WorkspaceID,
		rec.ChannelID,
		nullString(rec.ThreadTS),
		rec.MessageTS,
		rec.UserID,
		rec.MessageText,
		rec.Kind,
		boolToInt(rec.IsBot),
		rec.Response,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("inserting conversation record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking inserted rows: %w", err)
	}
	return n == 1, nil
}

// SaveExchange stores a message together with the bot's reply. If the message
// was ingested earlier without a reply, only the reply is filled in.
func (s *SQLiteStore) SaveExchange(ctx context.Context, rec *ConversationRecord) error {
	if err := prepareRecord(rec); err != nil {
		return err
	}

	query := `
		INSERT INTO conversation_records
			(id, workspace_id, channel_id, thread_ts, message_ts, user_id, message_text, kind, is_bot, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, channel_id, message_ts) DO UPDATE SET
			response = excluded.response
		WHERE conversation_records.response = ''
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.WorkspaceID,
		rec.ChannelID,
		nullString(rec.ThreadTS),
		rec.MessageTS,
		rec.UserID,
		rec.MessageText,
		rec.Kind,
		boolToInt(rec.IsBot),
		rec.Response,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving conversation exchange: %w", err)
	}

	s.logger.Debug("saved exchange", "workspace_id", rec.WorkspaceID, "channel_id", rec.ChannelID, "message_ts", rec.MessageTS)
	return nil
}

// RecentConversationRecords returns up to limit records for the channel,
// newest Slack ts first regardless of insertion order.
// If limit is 0 or negative, all records are returned.
func (s *SQLiteStore) RecentConversationRecords(ctx context.Context, workspaceID, channelID string, limit int) ([]*ConversationRecord, error) {
	query := `
		SELECT id, workspace_id, channel_id, thread_ts, message_ts, user_id, message_text, kind, is_bot, response, created_at
		FROM conversation_records
		WHERE workspace_id = ? AND channel_id = ?
		ORDER BY CAST(message_ts AS REAL) DESC, rowid DESC
	`
	args := []any{workspaceID, channelID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversation records: %w", err)
	}
	defer rows.Close()

	var out []*ConversationRecord
	for rows.Next() {
		rec, err := scanConversationRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetConversationRecord retrieves a single record by its natural key.
// Returns ErrNotFound if the message was never stored.
func (s *SQLiteStore) GetConversationRecord(ctx context.Context, workspaceID, channelID, messageTS string) (*ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, channel_id, thread_ts, message_ts, user_id, message_text, kind, is_bot, response, created_at
		FROM conversation_records
		WHERE workspace_id = ? AND channel_id = ? AND message_ts = ?
	`, workspaceID, channelID, messageTS)

	rec, err := scanConversationRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation record: %w", err)
	}
	return rec, nil
}

func scanConversationRecord(row rowScanner) (*ConversationRecord, error) {
	var rec ConversationRecord
	var threadTS sql.NullString
	var isBot int
	var createdAt string

	err := row.Scan(
		&rec.ID,
		&rec.WorkspaceID,
		&rec.ChannelID,
		&threadTS,
		&rec.MessageTS,
		&rec.UserID,
		&rec.MessageText,
		&rec.Kind,
		&isBot,
		&rec.Response,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ThreadTS = threadTS.String
	rec.IsBot = isBot != 0
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
