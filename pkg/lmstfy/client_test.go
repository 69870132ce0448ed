package lmstfy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bitleak/lmstfy/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soika/jobrouter/internal/transport"
)

func TestNewClient_RequiresNamespace(t *testing.T) {
	_, err := NewClient("127.0.0.1", 7777, "", "token", 0)
	assert.Error(t, err)

	c, err := NewClient("127.0.0.1", 7777, "jobs", "token", 0)
	require.NoError(t, err)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.DeclareQueue(context.Background(), "q", true))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, uint32(0), seconds(0))
	assert.Equal(t, uint32(0), seconds(-time.Second))
	assert.Equal(t, uint32(1), seconds(300*time.Millisecond))
	assert.Equal(t, uint32(2), seconds(2*time.Second))
	assert.Equal(t, uint32(3), seconds(2100*time.Millisecond))
}

func TestClassify(t *testing.T) {
	lost := classify("consume", &client.APIError{Type: client.RequestErr})
	assert.ErrorIs(t, lost, transport.ErrConnectionLost)

	other := classify("consume", &client.APIError{})
	assert.NotErrorIs(t, other, transport.ErrConnectionLost)

	assert.NotErrorIs(t, classify("ack", errors.New("x")), transport.ErrConnectionLost)
}

func TestTries(t *testing.T) {
	tests := []struct {
		name string
		f    frame
		want uint16
	}{
		{"fresh", frame{Attempt: 0, MaxAttempts: 3}, 3},
		{"after one attempt", frame{Attempt: 1, MaxAttempts: 3}, 2},
		{"spent", frame{Attempt: 3, MaxAttempts: 3}, 1},
		{"unframed", frame{}, 1},
		{"negative budget", frame{MaxAttempts: -4}, 1},
		{"beyond uint16", frame{MaxAttempts: 1 << 20}, math.MaxUint16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tries(tt.f))
		})
	}
}
