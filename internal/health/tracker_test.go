package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

type chanNotifier struct{ msgs chan string }

func newChanNotifier() *chanNotifier { return &chanNotifier{msgs: make(chan string, 16)} }

func (c *chanNotifier) NotifyAdmins(_ context.Context, msg string) error {
	c.msgs <- msg
	return nil
}

func (c *chanNotifier) next(t *testing.T) string {
	t.Helper()
	select {
	case m := <-c.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("expected a notification")
		return ""
	}
}

func (c *chanNotifier) none(t *testing.T) {
	t.Helper()
	select {
	case m := <-c.msgs:
		t.Fatalf("unexpected notification: %s", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestTracker() (*Tracker, *MemoryStore, *countingInvalidator, *chanNotifier) {
	st := NewMemoryStore()
	inv := &countingInvalidator{}
	n := newChanNotifier()
	tr := NewTracker(st, n, Config{FailureThreshold: 3, GonePatterns: config.DefaultGonePatterns})
	tr.AddInvalidator(inv)
	return tr, st, inv, n
}

func TestRecordFailure_OpensAtThreshold(t *testing.T) {
	tr, st, inv, n := newTestTracker()
	ctx := context.Background()
	boom := errors.New("status 500: internal error")

	assert.False(t, tr.RecordFailure(ctx, "openai/gpt-4o", boom))
	assert.False(t, tr.RecordFailure(ctx, "openai/gpt-4o", boom))
	assert.Zero(t, inv.n.Load())

	assert.True(t, tr.RecordFailure(ctx, "openai/gpt-4o", boom))
	assert.Equal(t, int32(1), inv.n.Load())

	disabled, _ := st.DisabledSet(ctx)
	assert.True(t, disabled["openai/gpt-4o"])

	msg := n.next(t)
	assert.Contains(t, msg, "openai/gpt-4o")
	assert.Contains(t, msg, "status 500")
}

func TestRecordFailure_GonePatternOpensImmediately(t *testing.T) {
	tr, st, inv, n := newTestTracker()
	ctx := context.Background()

	opened := tr.RecordFailure(ctx, "google/gemini-1.5-pro", errors.New("404: Model Not Found for API version v1beta"))
	assert.True(t, opened)
	assert.Equal(t, int32(1), inv.n.Load())

	records, _ := st.AllHealth(ctx)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].ConsecutiveFailures)
	assert.True(t, records[0].Disabled)
	assert.Contains(t, n.next(t), "google/gemini-1.5-pro")
}

func TestRecordSuccess_ResetsConsecutive(t *testing.T) {
	tr, st, inv, n := newTestTracker()
	ctx := context.Background()
	boom := errors.New("timeout")

	tr.RecordFailure(ctx, "p", boom)
	tr.RecordFailure(ctx, "p", boom)
	tr.RecordSuccess(ctx, "p")
	tr.RecordFailure(ctx, "p", boom)
	tr.RecordFailure(ctx, "p", boom)

	records, _ := st.AllHealth(ctx)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].ConsecutiveFailures)
	assert.Equal(t, 4, records[0].TotalFailures)
	assert.False(t, records[0].Disabled)
	assert.Zero(t, inv.n.Load())
	n.none(t)
}

func TestRecordFailure_OpensOnceUnderConcurrency(t *testing.T) {
	tr, _, inv, n := newTestTracker()
	ctx := context.Background()

	var wg sync.WaitGroup
	var opened atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.RecordFailure(ctx, "groq/llama", errors.New("rate limited")) {
				opened.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, int32(1), inv.n.Load())
	n.next(t)
	n.none(t)
}

func TestReenable_ClosesBreaker(t *testing.T) {
	tr, st, inv, n := newTestTracker()
	ctx := context.Background()

	tr.RecordFailure(ctx, "p", errors.New("deprecated model"))
	n.next(t)

	require.NoError(t, tr.Reenable(ctx, "p"))
	assert.Equal(t, int32(2), inv.n.Load())

	disabled, _ := st.DisabledSet(ctx)
	assert.Empty(t, disabled)
	records, _ := st.AllHealth(ctx)
	assert.Equal(t, 0, records[0].ConsecutiveFailures)

	// the breaker can open again after being closed
	assert.True(t, tr.RecordFailure(ctx, "p", errors.New("deprecated model")))
	n.next(t)
}

func TestReenable_RequiresName(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	assert.Error(t, tr.Reenable(context.Background(), ""))
}

type failingStore struct{ *MemoryStore }

func (failingStore) IncrementFailure(context.Context, string, string) (int, error) {
	return 0, errors.New("db down")
}

func (failingStore) MarkDisabled(context.Context, string, string) error {
	return errors.New("db down")
}

func TestRecordFailure_StoreErrorsDoNotOpen(t *testing.T) {
	inv := &countingInvalidator{}
	tr := NewTracker(failingStore{NewMemoryStore()}, nil, Config{GonePatterns: config.DefaultGonePatterns})
	tr.AddInvalidator(inv)

	assert.False(t, tr.RecordFailure(context.Background(), "p", errors.New("boom")))
	// gone signature still tries to disable, but the failed write keeps the breaker closed locally
	assert.False(t, tr.RecordFailure(context.Background(), "p", errors.New("no such model")))
	assert.Zero(t, inv.n.Load())
}

func TestIsGone_Configurable(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), nil, Config{GonePatterns: []string{" Retired "}})

	assert.True(t, tr.IsGone(errors.New("model RETIRED on 2025-01-01")))
	assert.False(t, tr.IsGone(errors.New("model not found")))
	assert.False(t, tr.IsGone(nil))
}

func TestTruncate_KeepsValidUTF8(t *testing.T) {
	s := truncate("ééé", 3)
	assert.Equal(t, "é", s)
}
