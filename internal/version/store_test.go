package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/unfreeze/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s, err := OpenMemoryStore()
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get("abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("abc", model.NewRuntimeVersion(3, 9, model.ProvenanceDetected)))
	v, ok, err := s.Get("abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3.9", v.Text)
	assert.Equal(t, 3, v.Major)
	assert.Equal(t, 9, v.Minor)

	_, ok, err = s.Get("other")
	require.NoError(t, err)
	assert.False(t, ok, "entries are scoped by identity")
}

func TestStoreResetIsScoped(t *testing.T) {
	s, err := OpenMemoryStore()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("a", model.NewRuntimeVersion(3, 8, model.ProvenanceManual)))
	require.NoError(t, s.Put("b", model.NewRuntimeVersion(3, 11, model.ProvenanceDetected)))

	require.NoError(t, s.Reset("a"))
	_, ok, _ := s.Get("a")
	assert.False(t, ok)
	_, ok, _ = s.Get("b")
	assert.True(t, ok)

	require.NoError(t, s.ResetAll())
	_, ok, _ = s.Get("b")
	assert.False(t, ok)
}

func TestDiskStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put("target", model.NewRuntimeVersion(3, 12, model.ProvenanceDetected)))
	require.NoError(t, s.Close())

	s, err = OpenStore(dir)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get("target")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3.12", v.Text)
}

func TestOpenStoreRequiresDir(t *testing.T) {
	_, err := OpenStore("")
	require.Error(t, err)
}
