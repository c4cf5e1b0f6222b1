// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers workspaces, idempotent record ingest, analyses, and job claiming

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestWorkspace(t *testing.T, s *SQLiteStore, teamID string) *Workspace {
	t.Helper()
	ws := &Workspace{TeamID: teamID, TeamName: "Team " + teamID, BotUserID: "UBOT", BotToken: "xoxb-" + teamID}
	if err := s.UpsertWorkspace(context.Background(), ws); err != nil {
		t.Fatalf("UpsertWorkspace failed: %v", err)
	}
	return ws
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.UpsertWorkspace(ctx, &Workspace{TeamID: "T1", BotToken: "xoxb-1"}); err != nil {
		t.Fatalf("UpsertWorkspace failed: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if _, err := s.GetWorkspaceByTeamID(ctx, "T1"); err != nil {
		t.Errorf("GetWorkspaceByTeamID after reopen failed: %v", err)
	}
}

func TestUpsertWorkspace_ReinstallUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := createTestWorkspace(t, s, "T1")

	again := &Workspace{TeamID: "T1", TeamName: "Renamed", BotUserID: "UBOT2", BotToken: "xoxb-new"}
	if err := s.UpsertWorkspace(ctx, again); err != nil {
		t.Fatalf("UpsertWorkspace failed: %v", err)
	}

	if again.ID != first.ID {
		t.Errorf("ID mismatch after reinstall: got %q, want %q", again.ID, first.ID)
	}

	got, err := s.GetWorkspace(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetWorkspace failed: %v", err)
	}
	if got.TeamName != "Renamed" {
		t.Errorf("TeamName mismatch: got %q, want %q", got.TeamName, "Renamed")
	}
	if got.BotToken != "xoxb-new" {
		t.Errorf("BotToken mismatch: got %q, want %q", got.BotToken, "xoxb-new")
	}

	all, err := s.ListWorkspaces(ctx)
	if err != nil {
		t.Fatalf("ListWorkspaces failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListWorkspaces returned %d workspaces, want 1", len(all))
	}
}

func TestGetWorkspace_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWorkspaceByTeamID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkspace_TokenSealedAtRest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStoreWithOptions(Options{Path: dbPath, EncryptionKey: "correct horse"})
	if err != nil {
		t.Fatalf("NewSQLiteStoreWithOptions failed: %v", err)
	}
	defer s.Close()

	ws := &Workspace{TeamID: "T1", BotToken: "xoxb-secret"}
	if err := s.UpsertWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpsertWorkspace failed: %v", err)
	}

	var raw string
	if err := s.db.QueryRow("SELECT bot_token FROM workspaces WHERE team_id = ?", "T1").Scan(&raw); err != nil {
		t.Fatalf("raw select failed: %v", err)
	}
	if raw == "xoxb-secret" {
		t.Error("bot token stored in plaintext with an encryption key configured")
	}

	got, err := s.GetWorkspace(ctx, ws.ID)
	if err != nil {
		t.Fatalf("GetWorkspace failed: %v", err)
	}
	if got.BotToken != "xoxb-secret" {
		t.Errorf("BotToken mismatch: got %q, want %q", got.BotToken, "xoxb-secret")
	}
}

func TestEnsureConversationRecord_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws := createTestWorkspace(t, s, "T1")

	rec := &ConversationRecord{WorkspaceID: ws.ID, ChannelID: "C1", MessageTS: "1700000000.000100", UserID: "U1", MessageText: "hello"}
	created, err := s.EnsureConversationRecord(ctx, rec)
	if err != nil {
		t.Fatalf("EnsureConversationRecord failed: %v", err)
	}
	if !created {
		t.Error("first ingest reported created=false")
	}

	dup := &ConversationRecord{WorkspaceID: ws.ID, ChannelID: "C1", MessageTS: "1700000000.000100", UserID: "U1", MessageText: "edited"}
	created, err = s.EnsureConversationRecord(ctx, dup)
	if err != nil {
		t.Fatalf("second EnsureConversationRecord failed: %v", err)
	}
	if created {
		t.Error("second ingest reported created=true")
	}

	records, err := s.RecentConversationRecords(ctx, ws.ID, "C1", 0)
	if err != nil {
		t.Fatalf("RecentConversationRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].MessageText != "hello" {
		t.Errorf("existing record was overwritten: got %q, want %q", records[0].MessageText, "hello")
	}
	if records[0].Kind != KindText {
		t.Errorf("Kind mismatch: got %q, want %q", records[0].Kind, KindText)
	}
}

func TestEnsureConversationRecord_ConcurrentIngest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws := createTestWorkspace(t, s, "T1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.EnsureConversationRecord(ctx, &ConversationRecord{
				WorkspaceID: ws.ID, ChannelID: "C1", MessageTS: "1.0001", MessageText: "race",
			})
			if err != nil {
				t.Errorf("EnsureConversationRecord failed: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("created %d times, want exactly 1", createdCount)
	}
}

func TestSaveExchange_FillsMissingResponseOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws := createTestWorkspace(t, s, "T1")

	if _, err := s.EnsureConversationRecord(ctx, &ConversationRecord{
		WorkspaceID: ws.ID, ChannelID: "C1", MessageTS: "1.1", MessageText: "hi",
	}); err != nil {
		t.Fatalf("EnsureConversationRecord failed: %v", err)
	}

	if err := s.SaveExchange(ctx, &ConversationRecord{
		WorkspaceID: ws.ID, ChannelID: "C1", MessageTS: "1.1", MessageText: "hi", Response: "hello!",
	}); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}
	if err := s.SaveExchange(ctx, &ConversationRecord{
		WorkspaceID: ws.ID, ChannelID: "C1", MessageTS: "1.1", MessageText: "hi", Response: "second",
	}); err != nil {
		t.Fatalf("second SaveExchange failed: %v", err)
	}

	got, err := s.GetConversationRecord(ctx, ws.ID, "C1", "1.1")
	if err != nil {
		t.Fatalf("GetConversationRecord failed: %v", err)
	}
	if got.Response != "hello!" {
		t.Errorf("Response mismatch: got %q, want %q", got.Response, "hello!")
	}
}

func TestRecentConversationRecords_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws := createTestWorkspace(t, s, "T1")

	base := time.Now().UTC().Add(-time.Hour)
	for i, ts := range []string{"1.1", "1.2", "1.3", "1.4"} {
		if _, err := s.EnsureConversationRecord(ctx, &ConversationRecord{
			WorkspaceID: ws.ID, ChannelID: "C1", MessageTS: ts, MessageText: "m" + ts,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("EnsureConversationRecord failed: %v", err)
		}
	}
	// Different channel must not leak in.
	if _, err := s.EnsureConversationRecord(ctx, &ConversationRecord{
		WorkspaceID: ws.ID, ChannelID: "C2", MessageTS: "9.9", MessageText: "other",
	}); err != nil {
		t.Fatalf("EnsureConversationRecord failed: %v", err)
	}

	records, err := s.RecentConversationRecords(ctx, ws.ID, "C1", 3)
	if err != nil {
		t.Fatalf("RecentConversationRecords failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	want := []string{"1.4", "1.3", "1.2"}
	for i, rec := range records {
		if rec.MessageTS != want[i] {
			t.Errorf("records[%d].MessageTS = %q, want %q", i, rec.MessageTS, want[i])
		}
	}
}

func TestRecentConversationRecords_OrderedByMessageTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws := createTestWorkspace(t, s, "T1")

	// Newest first, the way channel history arrives from Slack.
	for i := 10; i >= 1; i-- {
		if _, err := s.EnsureConversationRecord(ctx, &ConversationRecord{
			WorkspaceID: ws.ID, ChannelID: "C1",
			MessageTS:   fmt.Sprintf("1700000%03d.000100", i),
			MessageText: fmt.Sprintf("msg %d", i),
		}); err != nil {
			t.Fatalf("EnsureConversationRecord failed: %v", err)
		}
	}

	records, err := s.RecentConversationRecords(ctx, ws.ID, "C1", 5)
	if err != nil {
		t.Fatalf("RecentConversationRecords failed: %v", err)
	}
	want := []string{"msg 10", "msg 9", "msg 8", "msg 7", "msg 6"}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, rec := range records {
		if rec.MessageText != want[i] {
			t.Errorf("records[%d] = %q, want %q", i, rec.MessageText, want[i])
		}
	}
}

func TestAnalysisResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws := createTestWorkspace(t, s, "T1")

	for i, text := range []string{"first", "second"} {
		if err := s.CreateAnalysisResult(ctx, &ChannelAnalysisResult{
			WorkspaceID:  ws.ID,
			ChannelID:    "C1",
			AnalysisText: text,
			MessageCount: i + 1,
			Hours:        2,
			ImageURL:     "",
			CreatedAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("CreateAnalysisResult failed: %v", err)
		}
	}

	results, err := s.ListAnalysisResults(ctx, ws.ID, "C1", 10)
	if err != nil {
		t.Fatalf("ListAnalysisResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].AnalysisText != "second" {
		t.Errorf("newest result = %q, want %q", results[0].AnalysisText, "second")
	}
	if results[0].MessageCount != 2 || results[0].Hours != 2 {
		t.Errorf("result fields mismatch: %+v", results[0])
	}
}

func TestJobs_ClaimLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &Job{Name: "analyze", Payload: []byte(`{"hours":3}`), MaxAttempts: 2}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	claimed, err := s.ClaimJob(ctx, time.Now())
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if claimed.ID != job.ID {
		t.Errorf("claimed %q, want %q", claimed.ID, job.ID)
	}
	if claimed.Status != JobRunning || claimed.Attempts != 1 {
		t.Errorf("claimed job status=%q attempts=%d, want running/1", claimed.Status, claimed.Attempts)
	}
	if string(claimed.Payload) != `{"hours":3}` {
		t.Errorf("Payload mismatch: got %s", claimed.Payload)
	}

	if _, err := s.ClaimJob(ctx, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second ClaimJob expected ErrNotFound, got %v", err)
	}

	retryAt := time.Now().Add(time.Hour)
	if err := s.FailJob(ctx, job.ID, "boom", &retryAt); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if _, err := s.ClaimJob(ctx, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("ClaimJob before run_after expected ErrNotFound, got %v", err)
	}
	if _, err := s.ClaimJob(ctx, retryAt.Add(time.Second)); err != nil {
		t.Fatalf("ClaimJob after run_after failed: %v", err)
	}

	if err := s.CompleteJob(ctx, job.ID); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != JobSucceeded {
		t.Errorf("Status = %q, want %q", got.Status, JobSucceeded)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
}

func TestJobs_ConcurrentClaimRunsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateJob(ctx, &Job{Name: "analyze"}); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimJob(ctx, time.Now()); err == nil {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claims != 1 {
		t.Errorf("job claimed %d times, want 1", claims)
	}
}

func TestJobs_RequeueRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &Job{Name: "analyze"}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := s.ClaimJob(ctx, time.Now()); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	n, err := s.RequeueRunningJobs(ctx)
	if err != nil {
		t.Fatalf("RequeueRunningJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d jobs, want 1", n)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != JobQueued {
		t.Errorf("Status = %q, want %q", got.Status, JobQueued)
	}
}

func TestFailJob_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.FailJob(context.Background(), "missing", "x", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
