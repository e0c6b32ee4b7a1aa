package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failRenameFs fails every rename so the original file must survive.
type failRenameFs struct {
	afero.Fs
}

func (f failRenameFs) Rename(oldname, newname string) error {
	return os.ErrPermission
}

func TestWriteFileAtomic(t *testing.T) {
	t.Run("creates parent directories", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		path := filepath.Join("state", "nested", "ledger.json")

		require.NoError(t, WriteFileAtomic(fs, path, []byte(`{"a":1}`), 0o600))

		got, err := afero.ReadFile(fs, path)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(got))
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "ledger.json", []byte("old"), 0o644))

		require.NoError(t, WriteFileAtomic(fs, "ledger.json", []byte("new"), 0o644))

		got, err := afero.ReadFile(fs, "ledger.json")
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})

	t.Run("failed rename keeps old contents and removes temp file", func(t *testing.T) {
		base := afero.NewMemMapFs()
		require.NoError(t, base.MkdirAll("dir", 0o755))
		require.NoError(t, afero.WriteFile(base, "dir/ledger.json", []byte("old"), 0o644))

		err := WriteFileAtomic(failRenameFs{base}, "dir/ledger.json", []byte("new"), 0o644)
		require.Error(t, err)

		got, err := afero.ReadFile(base, "dir/ledger.json")
		require.NoError(t, err)
		assert.Equal(t, "old", string(got))

		entries, err := afero.ReadDir(base, "dir")
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp file should be cleaned up")
	})
}

func TestAppendLine(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, AppendLine(fs, "logs/failures.log", []byte("first")))
	require.NoError(t, AppendLine(fs, "logs/failures.log", []byte("second\n")))

	got, err := afero.ReadFile(fs, "logs/failures.log")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(got))
}
