package project

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "projects.json"))
}

func TestRegisterAndList(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Register("/work/alpha", "alpha"))
	require.NoError(t, r.Register("/work/beta", ""))

	projects, err := r.List()
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "/work/alpha", projects[0].Path)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, "/work/beta", projects[1].Path)
	assert.False(t, projects[0].Registered.IsZero())
}

func TestRegisterRejectsRelativePath(t *testing.T) {
	r := newTestRegistry(t)
	assert.Error(t, r.Register("relative/path", ""))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("/work/alpha", "alpha"))

	err := r.Register("/work/alpha", "other")
	assert.ErrorContains(t, err, "already registered")

	err = r.Register("/work/gamma", "alpha")
	assert.ErrorContains(t, err, "name already in use")
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("/work/alpha", "alpha"))
	require.NoError(t, r.Register("/work/beta", "beta"))

	t.Run("by name", func(t *testing.T) {
		require.NoError(t, r.Unregister("alpha"))
		_, err := r.Get("alpha")
		assert.Error(t, err)
	})

	t.Run("by path", func(t *testing.T) {
		require.NoError(t, r.Unregister("/work/beta"))
		projects, err := r.List()
		require.NoError(t, err)
		assert.Empty(t, projects)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, r.Unregister("nope"))
	})
}

func TestResolve(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("/work/alpha", "alpha"))

	assert.Equal(t, "/work/alpha", r.Resolve("alpha"))
	assert.Equal(t, "/work/alpha", r.Resolve("/work/alpha"))
	// Unknown references pass through so raw paths keep working.
	assert.Equal(t, "/elsewhere/tree", r.Resolve("/elsewhere/tree"))
}

func TestTouchSession(t *testing.T) {
	fixed := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)
	r := New(filepath.Join(t.TempDir(), "projects.json"),
		WithClock(func() time.Time { return fixed }))

	require.NoError(t, r.Register("/work/alpha", "alpha"))
	require.NoError(t, r.TouchSession("/work/alpha"))

	p, err := r.Get("alpha")
	require.NoError(t, err)
	require.NotNil(t, p.LastSession)
	assert.Equal(t, fixed, *p.LastSession)

	assert.Error(t, r.TouchSession("/not/registered"))
}

func TestStateSurvivesRestart(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "projects.json")

	r := New(stateFile)
	require.NoError(t, r.Register("/work/alpha", "alpha"))

	reopened := New(stateFile)
	assert.Equal(t, "/work/alpha", reopened.Resolve("alpha"))
}
