// ABOUTME: Store interfaces and data types for slack-pulse persistence
// ABOUTME: Defines Workspace, ConversationRecord, ChannelAnalysisResult and Job

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Workspace is a Slack team that installed the bot.
type Workspace struct {
	ID        string
	TeamID    string
	TeamName  string
	BotUserID string
	BotToken  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message kinds for conversation records
const (
	KindText = "text"
	KindFile = "file"
)

// ConversationRecord is one inbound message, optionally paired with the bot's reply.
// (WorkspaceID, ChannelID, MessageTS) is unique.
type ConversationRecord struct {
	ID          string
	WorkspaceID string
	ChannelID   string
	ThreadTS    string
	MessageTS   string
	UserID      string
	MessageText string
	Kind        string // "text" or "file" (defaults to "text")
	IsBot       bool
	Response    string
	CreatedAt   time.Time
}

// ChannelAnalysisResult is the outcome of one completed sentiment analysis.
type ChannelAnalysisResult struct {
	ID           string
	WorkspaceID  string
	ChannelID    string
	ThreadTS     string
	AnalysisText string
	MessageCount int
	Hours        int
	ImageURL     string
	CreatedAt    time.Time
}

// JobStatus is the lifecycle state of a queued job
type JobStatus string

// Job statuses
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a durable unit of background work.
type Job struct {
	ID          string
	Name        string
	Payload     []byte
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	LastError   string
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkspaceStore persists installed workspaces.
type WorkspaceStore interface {
	// UpsertWorkspace creates the workspace or updates the existing row with the same TeamID.
	// On return ws.ID holds the stored ID.
	UpsertWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	GetWorkspaceByTeamID(ctx context.Context, teamID string) (*Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*Workspace, error)
}

// ConversationStore persists conversation records.
type ConversationStore interface {
	// EnsureConversationRecord inserts the record unless one with the same
	// (workspace, channel, message_ts) exists. Returns true if a row was created.
	EnsureConversationRecord(ctx context.Context, rec *ConversationRecord) (bool, error)

	// SaveExchange stores a message with its reply. If the message was already
	// ingested without a reply, the reply is filled in.
	SaveExchange(ctx context.Context, rec *ConversationRecord) error

	GetConversationRecord(ctx context.Context, workspaceID, channelID, messageTS string) (*ConversationRecord, error)

	// RecentConversationRecords returns up to limit records for the channel, newest first.
	RecentConversationRecords(ctx context.Context, workspaceID, channelID string, limit int) ([]*ConversationRecord, error)
}

// AnalysisStore persists analysis results.
type AnalysisStore interface {
	CreateAnalysisResult(ctx context.Context, res *ChannelAnalysisResult) error
	// ListAnalysisResults returns results for the channel, newest first.
	ListAnalysisResults(ctx context.Context, workspaceID, channelID string, limit int) ([]*ChannelAnalysisResult, error)
}

// JobStore persists the background job queue.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	// ClaimJob atomically moves the oldest runnable queued job to running.
	// Returns ErrNotFound when nothing is runnable.
	ClaimJob(ctx context.Context, now time.Time) (*Job, error)
	CompleteJob(ctx context.Context, id string) error
	// FailJob records lastErr. A nil retryAt marks the job failed; otherwise it is requeued.
	FailJob(ctx context.Context, id, lastErr string, retryAt *time.Time) error
	// RequeueRunningJobs returns jobs left running by a previous process to the queue.
	RequeueRunningJobs(ctx context.Context) (int, error)
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	WorkspaceStore
	ConversationStore
	AnalysisStore
	JobStore
	Ping(ctx context.Context) error
	Close() error
}
