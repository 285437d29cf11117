package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "P1", "S1", "IM0001.dcm"))
	touch(t, filepath.Join(root, "P1", "S1", "IM0002"))
	touch(t, filepath.Join(root, "P2", "notes.txt"))
	touch(t, filepath.Join(root, ".cache", "IM0003.dcm"))
	touch(t, filepath.Join(root, "P2", ".DS_Store"))

	m, err := NewMatcher([]string{"*"})
	require.NoError(t, err)
	files, err := Walk(root, m)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
		assert.Equal(t, int64(1), f.Size)
		assert.Equal(t, root, f.Path[:len(root)])
	}
	assert.Equal(t, []string{"IM0001.dcm", "IM0002", "notes.txt"}, names)
}

func TestWalkPatterns(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "P1", "S1", "IM0001.dcm"))
	touch(t, filepath.Join(root, "P1", "S1", "IM0002"))
	touch(t, filepath.Join(root, "P2", "notes.txt"))

	m, err := NewMatcher([]string{"*.dcm", "P1/S1/IM*2"})
	require.NoError(t, err)
	files, err := Walk(root, m)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "IM0001.dcm", files[0].Name)
	assert.Equal(t, "IM0002", files[1].Name)
}

func TestWalkMissingRoot(t *testing.T) {
	m, err := NewMatcher(nil)
	require.NoError(t, err)

	_, err = Walk(filepath.Join(t.TempDir(), "nope"), m)
	assert.Error(t, err)
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher(nil)
	require.NoError(t, err)
	assert.True(t, m.Match("anything/at/all"))

	m, err = NewMatcher([]string{" ", "{CT,MR}/**"})
	require.NoError(t, err)
	assert.True(t, m.Match("CT/1/2.dcm"))
	assert.False(t, m.Match("US/1/2.dcm"))
}
