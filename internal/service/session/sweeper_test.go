package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepNowEvictsIdleSessions(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(Options{TTL: time.Minute, Now: clock.Now})
	ctx := context.Background()

	_, err := store.Append(ctx, "alice", userMsg("hi"))
	require.NoError(t, err)
	_, err = store.Append(ctx, "bob", userMsg("hi"))
	require.NoError(t, err)

	sweeper := NewSweeper(store, time.Second)
	sweeper.now = clock.Now

	sweeper.SweepNow()
	assert.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Minute)
	sweeper.SweepNow()
	assert.Equal(t, 0, store.Len())
}

func TestSweeper_DefaultInterval(t *testing.T) {
	sweeper := NewSweeper(NewMemoryStore(Options{}), 0)
	assert.Equal(t, DefaultSweepInterval, sweeper.interval)
}

func TestSweeper_StartStop(t *testing.T) {
	store := NewMemoryStore(Options{TTL: time.Millisecond})
	_, err := store.Append(context.Background(), "alice", userMsg("hi"))
	require.NoError(t, err)

	sweeper := NewSweeper(store, 10*time.Millisecond)
	require.NoError(t, sweeper.Start())
	defer sweeper.Stop()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, 3*time.Second, 20*time.Millisecond)
}

type countingStore struct {
	Store
	sweeps int
}

func (c *countingStore) EvictExpired(context.Context, time.Time) (int, error) {
	c.sweeps++
	return 3, nil
}

func TestSweeper_StoreWithoutLen(t *testing.T) {
	store := &countingStore{}
	sweeper := NewSweeper(store, time.Second)

	sweeper.SweepNow()
	sweeper.SweepNow()
	assert.Equal(t, 2, store.sweeps)
}
