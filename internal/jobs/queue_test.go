// ABOUTME: Tests for the job queue and worker pool
// ABOUTME: Runs against the in-memory store and the SQLite store

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/slack-pulse/internal/store"
)

type sentimentArgs struct {
	WorkspaceID string `json:"workspace_id"`
	Hours       int    `json:"hours"`
}

func TestQueue_EnqueueAndRun(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	q := New(s, Options{})

	var got sentimentArgs
	q.Register("analyze", func(ctx context.Context, payload json.RawMessage) error {
		return json.Unmarshal(payload, &got)
	})

	job, err := q.Enqueue(ctx, "analyze", sentimentArgs{WorkspaceID: "ws-1", Hours: 3})
	require.NoError(t, err)
	assert.Equal(t, store.JobQueued, job.Status)
	assert.Equal(t, 1, job.MaxAttempts)

	ran, err := q.RunNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, sentimentArgs{WorkspaceID: "ws-1", Hours: 3}, got)

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobSucceeded, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	ran, err = q.RunNext(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "queue is empty")
}

func TestQueue_RetryThenFail(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	q := New(s, Options{MaxAttempts: 2, RetryBackoff: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	q.now = func() time.Time { return now }

	var calls int
	q.Register("flaky", func(ctx context.Context, payload json.RawMessage) error {
		calls++
		return errors.New("llm unavailable")
	})

	job, err := q.Enqueue(ctx, "flaky", map[string]string{})
	require.NoError(t, err)

	_, err = q.RunNext(ctx)
	require.NoError(t, err)

	stored, _ := s.GetJob(ctx, job.ID)
	assert.Equal(t, store.JobQueued, stored.Status)
	assert.Equal(t, "llm unavailable", stored.LastError)
	assert.Equal(t, now.UTC().Add(time.Minute), stored.RunAfter)

	ran, err := q.RunNext(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "retry is not due yet")

	now = now.Add(2 * time.Minute)
	ran, err = q.RunNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	stored, _ = s.GetJob(ctx, job.ID)
	assert.Equal(t, store.JobFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, 2, calls)
}

func TestQueue_UnknownJobFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	q := New(s, Options{MaxAttempts: 3})

	job, err := q.Enqueue(ctx, "nobody-handles-this", nil)
	require.NoError(t, err)

	_, err = q.RunNext(ctx)
	require.NoError(t, err)

	stored, _ := s.GetJob(ctx, job.ID)
	assert.Equal(t, store.JobFailed, stored.Status)
	assert.Contains(t, stored.LastError, "no handler registered")
}

func TestQueue_PanicIsRecordedAsFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	q := New(s, Options{})
	q.Register("boom", func(ctx context.Context, payload json.RawMessage) error {
		panic("nil map")
	})

	job, err := q.Enqueue(ctx, "boom", nil)
	require.NoError(t, err)

	_, err = q.RunNext(ctx)
	require.NoError(t, err)

	stored, _ := s.GetJob(ctx, job.ID)
	assert.Equal(t, store.JobFailed, stored.Status)
	assert.Contains(t, stored.LastError, "panicked")
}

func TestQueue_TimeoutCancelsHandler(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	q := New(s, Options{Timeout: 20 * time.Millisecond})
	q.Register("slow", func(ctx context.Context, payload json.RawMessage) error {
		<-ctx.Done()
		return ctx.Err()
	})

	job, err := q.Enqueue(ctx, "slow", nil)
	require.NoError(t, err)

	_, err = q.RunNext(ctx)
	require.NoError(t, err)

	stored, _ := s.GetJob(ctx, job.ID)
	assert.Equal(t, store.JobFailed, stored.Status)
	assert.Contains(t, stored.LastError, "deadline exceeded")
}

func TestQueue_WorkersProcessEnqueuedJobs(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	q := New(s, Options{Workers: 3, PollInterval: time.Hour})

	var mu sync.Mutex
	seen := map[int]int{}
	var wg sync.WaitGroup
	q.Register("count", func(ctx context.Context, payload json.RawMessage) error {
		var n int
		if err := json.Unmarshal(payload, &n); err != nil {
			return err
		}
		mu.Lock()
		seen[n]++
		mu.Unlock()
		wg.Done()
		return nil
	})

	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	const jobs = 20
	wg.Add(jobs)
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, "count", i)
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs were not processed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, jobs)
	for n, count := range seen {
		assert.Equal(t, 1, count, "job %d ran more than once", n)
	}
}

func TestQueue_StartRequeuesAbandonedJobs(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()

	require.NoError(t, s.CreateJob(ctx, &store.Job{ID: "left-running", Name: "resume"}))
	_, err := s.ClaimJob(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)

	q := New(s, Options{Workers: 1, PollInterval: 10 * time.Millisecond})
	ran := make(chan struct{})
	q.Register("resume", func(ctx context.Context, payload json.RawMessage) error {
		close(ran)
		return nil
	})

	require.NoError(t, q.Start(ctx))
	defer func() { _ = q.Stop(context.Background()) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned job was not resumed")
	}

	assert.Error(t, q.Start(ctx), "second start is rejected")
}

func TestQueue_StopCancelsRunningJobAfterDeadline(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	q := New(s, Options{Workers: 1, PollInterval: 10 * time.Millisecond})

	started := make(chan struct{})
	var cancelled atomic.Bool
	q.Register("long", func(ctx context.Context, payload json.RawMessage) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	require.NoError(t, q.Start(ctx))
	_, err := q.Enqueue(ctx, "long", nil)
	require.NoError(t, err)
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(stopCtx), context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
	assert.NoError(t, q.Stop(context.Background()), "stopping twice is a no-op")
}

func TestQueue_SQLiteClaimsEachJobOnce(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	q := New(s, Options{Workers: 4, PollInterval: 5 * time.Millisecond})

	var runs atomic.Int32
	var wg sync.WaitGroup
	q.Register("once", func(ctx context.Context, payload json.RawMessage) error {
		runs.Add(1)
		wg.Done()
		return nil
	})

	const jobs = 10
	wg.Add(jobs)
	var ids []string
	for i := 0; i < jobs; i++ {
		job, err := q.Enqueue(ctx, "once", i)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	require.NoError(t, q.Start(ctx))
	wg.Wait()
	require.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, int32(jobs), runs.Load())
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.JobSucceeded, job.Status)
	}
}
