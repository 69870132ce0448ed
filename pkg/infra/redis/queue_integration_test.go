//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soika/jobrouter/internal/transport"
)

func integrationQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	addr := os.Getenv("JOBROUTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("JOBROUTER_TEST_REDIS_ADDR not set")
	}
	q := NewQueue(addr, "", 0, "jobrouter-test")
	require.NoError(t, q.Connect(context.Background()))
	t.Cleanup(func() { _ = q.Close() })
	return q, "q-" + uuid.NewString()
}

func TestQueue_RoundTrip(t *testing.T) {
	q, name := integrationQueue(t)
	ctx := context.Background()

	id, err := q.Send(ctx, name, []byte(`{"kind":"k"}`), transport.SendOptions{MaxAttempts: 2})
	require.NoError(t, err)

	msg, err := q.Receive(ctx, name, transport.ReceiveOptions{Wait: time.Second})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, 1, msg.Attempt)
	assert.Equal(t, 2, msg.MaxAttempts)

	require.NoError(t, q.Ack(ctx, msg))
	assert.ErrorIs(t, q.Ack(ctx, msg), errStaleDelivery)
}

func TestQueue_NackUntilDead(t *testing.T) {
	q, name := integrationQueue(t)
	ctx := context.Background()

	_, err := q.Send(ctx, name, []byte(`x`), transport.SendOptions{MaxAttempts: 2})
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		msg, err := q.Receive(ctx, name, transport.ReceiveOptions{Wait: 2 * time.Second})
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, attempt, msg.Attempt)
		require.NoError(t, q.Nack(ctx, msg, true, 50*time.Millisecond))
	}

	dead, err := q.DeadLetters(ctx, name, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempts)
}

func TestQueue_PriorityFirst(t *testing.T) {
	q, name := integrationQueue(t)
	ctx := context.Background()

	_, err := q.Send(ctx, name, []byte(`low`), transport.SendOptions{})
	require.NoError(t, err)
	_, err = q.Send(ctx, name, []byte(`high`), transport.SendOptions{Priority: 1})
	require.NoError(t, err)

	msg, err := q.Receive(ctx, name, transport.ReceiveOptions{Wait: time.Second})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "high", string(msg.Data))
}
