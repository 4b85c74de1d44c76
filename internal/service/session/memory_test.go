package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwise/planner/backend/internal/model/chat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func userMsg(text string) chat.Message {
	return chat.Message{Role: chat.RoleUser, Content: text}
}

func TestMemoryStore_GetOrCreateStartsEmpty(t *testing.T) {
	store := NewMemoryStore(Options{})
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "alice", sess.UserID)
	assert.Empty(t, sess.Messages)

	again, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)
}

func TestMemoryStore_AppendKeepsOrderAndAssignsIDs(t *testing.T) {
	store := NewMemoryStore(Options{})
	ctx := context.Background()

	_, err := store.Append(ctx, "alice", userMsg("one"))
	require.NoError(t, err)
	sess, err := store.Append(ctx, "alice",
		userMsg("two"),
		chat.Message{Role: chat.RoleAssistant, Content: "three"},
	)
	require.NoError(t, err)

	require.Len(t, sess.Messages, 3)
	assert.Equal(t, "one", sess.Messages[0].Content)
	assert.Equal(t, "two", sess.Messages[1].Content)
	assert.Equal(t, "three", sess.Messages[2].Content)
	for _, m := range sess.Messages {
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())
	}
}

func TestMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	store := NewMemoryStore(Options{})
	ctx := context.Background()

	sess, err := store.Append(ctx, "alice", userMsg("hello"))
	require.NoError(t, err)
	sess.Messages[0].Content = "tampered"

	fresh, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello", fresh.Messages[0].Content)
}

func TestMemoryStore_CapDiscardsOldest(t *testing.T) {
	store := NewMemoryStore(Options{MaxMessages: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, "alice", userMsg(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	sess, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, "m2", sess.Messages[0].Content)
	assert.Equal(t, "m4", sess.Messages[2].Content)
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(Options{TTL: 30 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	old, err := store.Append(ctx, "alice", userMsg("remember me"))
	require.NoError(t, err)

	clock.Advance(30*time.Minute + time.Second)

	sess, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, sess.ID)
	assert.Empty(t, sess.Messages)
}

func TestMemoryStore_ActivityRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(Options{TTL: 30 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	first, err := store.Append(ctx, "alice", userMsg("one"))
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	_, err = store.Append(ctx, "alice", userMsg("two"))
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)

	sess, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, sess.ID)
	assert.Len(t, sess.Messages, 2)
}

func TestMemoryStore_AppendAfterExpiryStartsFresh(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(Options{TTL: time.Minute, Now: clock.Now})
	ctx := context.Background()

	_, err := store.Append(ctx, "alice", userMsg("stale"))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	sess, err := store.Append(ctx, "alice", userMsg("new"))
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "new", sess.Messages[0].Content)
}

func TestMemoryStore_SweepMatchesLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(Options{TTL: 30 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	_, err := store.Append(ctx, "alice", userMsg("a"))
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = store.Append(ctx, "bob", userMsg("b"))
	require.NoError(t, err)

	clock.Advance(25 * time.Minute)
	evicted, err := store.EvictExpired(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, store.Len())

	_, ok, err := store.Peek(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	bob, ok, err := store.Peek(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, bob.Messages, 1)

	alice, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice.Messages)
}

func TestMemoryStore_ClearIsIdempotent(t *testing.T) {
	store := NewMemoryStore(Options{})
	ctx := context.Background()

	_, err := store.Append(ctx, "alice", userMsg("hi"))
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "alice"))
	require.NoError(t, store.Clear(ctx, "alice"))
	require.NoError(t, store.Clear(ctx, "nobody"))

	sess, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
}

func TestMemoryStore_PeekDoesNotCreate(t *testing.T) {
	store := NewMemoryStore(Options{})

	_, ok, err := store.Peek(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_ConcurrentAppendsPerUser(t *testing.T) {
	store := NewMemoryStore(Options{MaxMessages: 1000})
	ctx := context.Background()

	const users = 8
	const perUser = 50

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(u, i int) {
				defer wg.Done()
				_, err := store.Append(ctx, fmt.Sprintf("user-%d", u), userMsg(fmt.Sprintf("%d", i)))
				assert.NoError(t, err)
			}(u, i)
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		sess, err := store.GetOrCreate(ctx, fmt.Sprintf("user-%d", u))
		require.NoError(t, err)
		assert.Len(t, sess.Messages, perUser)

		seen := make(map[string]bool, perUser)
		for _, m := range sess.Messages {
			assert.False(t, seen[m.ID], "duplicate message %s", m.ID)
			seen[m.ID] = true
		}
	}
}

func TestMemoryStore_SequentialAppendsKeepCompletionOrder(t *testing.T) {
	store := NewMemoryStore(Options{MaxMessages: 100})
	ctx := context.Background()

	var mu sync.Mutex
	var completed []string

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("m%d", i)
			// Serialize completion bookkeeping with the append so the
			// recorded order is the order appends completed in.
			mu.Lock()
			defer mu.Unlock()
			_, err := store.Append(ctx, "alice", userMsg(content))
			assert.NoError(t, err)
			completed = append(completed, content)
		}(i)
	}
	wg.Wait()

	sess, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sess.Messages, len(completed))
	for i, m := range sess.Messages {
		assert.Equal(t, completed[i], m.Content)
	}
}

func TestMemoryStore_AppendRacingClear(t *testing.T) {
	store := NewMemoryStore(Options{MaxMessages: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Append(ctx, "alice", userMsg("x"))
		}()
		go func() {
			defer wg.Done()
			_ = store.Clear(ctx, "alice")
		}()
	}
	wg.Wait()

	sess, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sess.Messages), 100)
}
