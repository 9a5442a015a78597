package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/biolume-dev/biolume/internal/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMailbox(t *testing.T, size int) (*miniredis.Miniredis, *RedisMailbox) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mb := NewRedisMailboxFromClient(client, "test:", size)
	mb.pollTimeout = 50 * time.Millisecond

	t.Cleanup(func() {
		_ = mb.Close()
	})
	return mr, mb
}

func TestRedisMailbox_SendAndServe(t *testing.T) {
	_, mb := setupMailbox(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mb.Send(ctx, AgentMailbox(1), protocol.NewDisplay("manager", [3]int{1, 2, 3})))
	require.NoError(t, mb.Send(ctx, AgentMailbox(1), protocol.NewQuit()))

	got := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- mb.Endpoint(AgentMailbox(1)).Serve(ctx, func(_ context.Context, payload []byte, remote string) {
			assert.Equal(t, "redis:agent-1", remote)
			got <- string(payload)
		})
	}()

	assert.Equal(t, "manager,display,1,2,3", <-got)
	assert.Equal(t, "manager,quit", <-got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestRedisMailbox_TrimsOldest(t *testing.T) {
	mr, mb := setupMailbox(t, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, mb.Send(ctx, CoordinatorMailbox, protocol.NewStarted(i)))
	}

	n, err := mb.Len(ctx, CoordinatorMailbox)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := mr.List("test:coordinator")
	require.NoError(t, err)
	assert.Equal(t, []string{"2,started", "1,started"}, list)
}

func TestRedisMailbox_SendAfterClose(t *testing.T) {
	_, mb := setupMailbox(t, 2)
	require.NoError(t, mb.Close())
	require.NoError(t, mb.Close())

	err := mb.Send(context.Background(), CoordinatorMailbox, protocol.NewQuit())
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestNewRedisMailbox_Unreachable(t *testing.T) {
	_, err := NewRedisMailbox(RedisConfig{})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	mb, err := NewRedisMailbox(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	assert.NoError(t, mb.Close())
}
