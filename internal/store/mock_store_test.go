// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Keeps its semantics aligned with SQLiteStore for the behaviors other packages rely on

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_EnsureIsIdempotent(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	created, err := m.EnsureConversationRecord(ctx, &ConversationRecord{WorkspaceID: "W", ChannelID: "C", MessageTS: "1", MessageText: "a"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.EnsureConversationRecord(ctx, &ConversationRecord{WorkspaceID: "W", ChannelID: "C", MessageTS: "1", MessageText: "b"})
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, m.RecordCount())
	rec, err := m.GetConversationRecord(ctx, "W", "C", "1")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.MessageText)
}

func TestMockStore_RecentNewestFirst(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	for _, ts := range []string{"1", "2", "3"} {
		require.NoError(t, m.SaveExchange(ctx, &ConversationRecord{WorkspaceID: "W", ChannelID: "C", MessageTS: ts}))
	}

	recs, err := m.RecentConversationRecords(ctx, "W", "C", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "3", recs[0].MessageTS)
	assert.Equal(t, "2", recs[1].MessageTS)
}

func TestMockStore_RecentOrderedByMessageTS(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	for _, ts := range []string{"1700000010.000100", "1700000009.000100", "1700000002.000100"} {
		_, err := m.EnsureConversationRecord(ctx, &ConversationRecord{WorkspaceID: "W", ChannelID: "C", MessageTS: ts})
		require.NoError(t, err)
	}

	recs, err := m.RecentConversationRecords(ctx, "W", "C", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1700000010.000100", recs[0].MessageTS)
	assert.Equal(t, "1700000009.000100", recs[1].MessageTS)
}

func TestMockStore_UpsertWorkspaceKeepsID(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	first := &Workspace{TeamID: "T1", BotToken: "a"}
	require.NoError(t, m.UpsertWorkspace(ctx, first))

	second := &Workspace{TeamID: "T1", BotToken: "b"}
	require.NoError(t, m.UpsertWorkspace(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := m.GetWorkspaceByTeamID(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.BotToken)
}

func TestMockStore_JobLifecycle(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	job := &Job{Name: "n"}
	require.NoError(t, m.CreateJob(ctx, job))

	claimed, err := m.ClaimJob(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, JobRunning, claimed.Status)

	_, err = m.ClaimJob(ctx, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.FailJob(ctx, job.ID, "boom", nil))
	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "boom", got.LastError)
}
