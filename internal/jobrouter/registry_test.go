package jobrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopJob() *Job[welcomeInput] {
	return DefineJob[welcomeInput]().Handler(func(ctx context.Context, in welcomeInput) error { return nil })
}

func TestRegistry_ResolveAndKinds(t *testing.T) {
	reg, err := NewRegistry(Jobs{
		"b": noopJob(),
		"a": noopJob(),
	})
	require.NoError(t, err)

	def, err := reg.Resolve("a")
	require.NoError(t, err)
	assert.NotNil(t, def)
	assert.Equal(t, []string{"a", "b"}, reg.Kinds())
	assert.Equal(t, 2, reg.Len())

	_, err = reg.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownJobKind)
}

func TestRegistry_RegisterRejects(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	require.NoError(t, reg.Register("a", noopJob()))
	assert.ErrorIs(t, reg.Register("a", noopJob()), ErrDuplicateJobKind)
	assert.Error(t, reg.Register("", noopJob()))
	assert.Error(t, reg.Register("b", nil))

	reg.Seal()
	assert.ErrorIs(t, reg.Register("c", noopJob()), ErrSealed)
}

func TestNew_SealsRegistry(t *testing.T) {
	reg, err := NewRegistry(Jobs{"a": noopJob()})
	require.NoError(t, err)

	r, err := New("jobs", &spyTransport{}, reg, nil)
	require.NoError(t, err)
	assert.Equal(t, "jobs", r.Queue())
	assert.Equal(t, []string{"a"}, r.Kinds())
	assert.ErrorIs(t, reg.Register("b", noopJob()), ErrSealed)
}

func TestNew_RequiresParts(t *testing.T) {
	reg, _ := NewRegistry(nil)
	_, err := New("", &spyTransport{}, reg, nil)
	assert.Error(t, err)
	_, err = New("jobs", nil, reg, nil)
	assert.Error(t, err)
	_, err = New("jobs", &spyTransport{}, nil, nil)
	assert.Error(t, err)
}
