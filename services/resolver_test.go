package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestResolverAbsoluteShortCircuit(t *testing.T) {
	file := touch(t, filepath.Join(t.TempDir(), "abs.mp3"))
	resolver := NewPathResolver()

	got, err := resolver.Resolve(file)
	require.NoError(t, err)
	assert.Equal(t, file, got)
}

func TestResolverProbeOrder(t *testing.T) {
	newRoot := t.TempDir()
	legacyRoot := t.TempDir()
	resolver := NewPathResolver(newRoot, legacyRoot)

	tests := []struct {
		name  string
		setup func() string
		ref   string
	}{
		{
			name: "full reference under legacy root",
			setup: func() string {
				return touch(t, filepath.Join(legacyRoot, "artist", "song-a.mp3"))
			},
			ref: "artist/song-a.mp3",
		},
		{
			name: "new root wins over legacy",
			setup: func() string {
				touch(t, filepath.Join(legacyRoot, "song-b.mp3"))
				return touch(t, filepath.Join(newRoot, "song-b.mp3"))
			},
			ref: "song-b.mp3",
		},
		{
			name: "stale prefix falls back to basename",
			setup: func() string {
				return touch(t, filepath.Join(newRoot, "song-c.flac"))
			},
			ref: "/old/uploads/musica/song-c.flac",
		},
		{
			name: "windows separators",
			setup: func() string {
				return touch(t, filepath.Join(legacyRoot, "dir", "song-d.mp3"))
			},
			ref: `dir\song-d.mp3`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.setup()
			got, err := resolver.Resolve(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestResolverIsIdempotent(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "stable.mp3"))
	resolver := NewPathResolver(root)

	first, err := resolver.Resolve("stable.mp3")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := resolver.Resolve("stable.mp3")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolverNotFound(t *testing.T) {
	root := t.TempDir()
	resolver := NewPathResolver(root)

	for _, ref := range []string{"", "missing.mp3", "../escape.mp3"} {
		_, err := resolver.Resolve(ref)
		assert.ErrorIs(t, err, ErrNotFound, ref)
	}

	// Directories never resolve.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "folder"), 0o755))
	_, err := resolver.Resolve("folder")
	assert.ErrorIs(t, err, ErrNotFound)
}
