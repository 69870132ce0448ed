package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soika/jobrouter/internal/transport"
	"soika/jobrouter/internal/transport/memory"
	"soika/jobrouter/pkg/logger"
)

func newAdapter(d transport.Driver) *transport.Adapter {
	return transport.NewAdapter(d, "jobs", logger.NewNopLogger(),
		transport.WithReconnectBackoff(20*time.Millisecond),
		transport.WithConnectTimeout(time.Second),
	)
}

func TestAdapter_ConcurrentSendsShareOneConnect(t *testing.T) {
	d := memory.New()
	a := newAdapter(d)
	defer a.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Send(context.Background(), []byte(`{}`), transport.SendOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), d.Connects())
	assert.Equal(t, transport.StateConnected, a.State())
	assert.Equal(t, 20, d.Pending("jobs"))
}

func TestAdapter_ReconnectsAfterLostConnection(t *testing.T) {
	d := memory.New()
	a := newAdapter(d)
	defer a.Close()

	require.NoError(t, a.Connect(context.Background()))

	d.SetAvailable(false)
	_, err := a.Send(context.Background(), []byte(`{}`), transport.SendOptions{})
	require.ErrorIs(t, err, transport.ErrUnavailable)
	assert.NotEqual(t, transport.StateConnected, a.State())

	d.SetAvailable(true)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Await(ctx))

	_, err = a.Send(context.Background(), []byte(`{}`), transport.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Pending("jobs"))
}

func TestAdapter_FirstConnectFailureKeepsRetrying(t *testing.T) {
	d := memory.New()
	d.SetAvailable(false)
	a := newAdapter(d)
	defer a.Close()

	err := a.Connect(context.Background())
	require.ErrorIs(t, err, transport.ErrUnavailable)

	time.Sleep(60 * time.Millisecond)
	d.SetAvailable(true)

	require.Eventually(t, func() bool {
		return a.State() == transport.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, d.Connects(), int64(1))
}

func TestAdapter_AckWhileDisconnectedDoesNotConnect(t *testing.T) {
	d := memory.New()
	a := newAdapter(d)
	defer a.Close()

	assert.ErrorIs(t, a.Ack(context.Background(), nil), transport.ErrUnavailable)
	assert.ErrorIs(t, a.Nack(context.Background(), nil, true, 0), transport.ErrUnavailable)
	assert.Equal(t, transport.StateDisconnected, a.State())
	assert.Equal(t, int64(0), d.Connects())
}

func TestAdapter_AwaitTimesOut(t *testing.T) {
	d := memory.New()
	d.SetAvailable(false)
	a := newAdapter(d)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Await(ctx), transport.ErrUnavailable)
}

func TestAdapter_Close(t *testing.T) {
	d := memory.New()
	a := newAdapter(d)
	require.NoError(t, a.Connect(context.Background()))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, transport.StateClosed, a.State())

	_, err := a.Send(context.Background(), []byte(`{}`), transport.SendOptions{})
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.ErrorIs(t, a.Await(context.Background()), transport.ErrUnavailable)
}

func TestAdapter_CloseStopsReconnecting(t *testing.T) {
	d := memory.New()
	d.SetAvailable(false)
	a := newAdapter(d)

	require.Error(t, a.Connect(context.Background()))
	require.NoError(t, a.Close())

	n := d.Connects()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, n, d.Connects())
}

func TestAdapter_WaitersDoNotDialDuringReconnect(t *testing.T) {
	d := memory.New()
	a := transport.NewAdapter(d, "jobs", logger.NewNopLogger(), transport.WithReconnectBackoff(5*time.Second))
	defer a.Close()

	require.NoError(t, a.Connect(context.Background()))
	d.SetAvailable(false)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				_, _ = a.Receive(ctx, "jobs", transport.ReceiveOptions{Wait: 10 * time.Millisecond})
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), d.Connects())
	assert.NotEqual(t, transport.StateConnected, a.State())
}

func TestAdapter_SendWaitsForReconnect(t *testing.T) {
	d := memory.New()
	d.SetAvailable(false)
	a := newAdapter(d)
	defer a.Close()

	require.Error(t, a.Connect(context.Background()))

	go func() {
		time.Sleep(50 * time.Millisecond)
		d.SetAvailable(true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := a.Send(ctx, []byte(`{}`), transport.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Pending("jobs"))
}

func TestAdapter_SendGivesUpWithContext(t *testing.T) {
	d := memory.New()
	d.SetAvailable(false)
	a := newAdapter(d)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Send(ctx, []byte(`{}`), transport.SendOptions{})
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdapter_CloseRacesReconnect(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := memory.New()
		d.SetAvailable(false)
		a := newAdapter(d)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = a.Connect(context.Background())
		}()
		require.NoError(t, a.Close())
		<-done

		assert.Equal(t, transport.StateClosed, a.State())
	}
}
