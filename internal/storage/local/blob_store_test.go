package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supacrawl/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "blobs")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		require.DirExists(t, dir)
	})

	t.Run("missing base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/example.com/abc.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "pages/example.com/abc.html"), uri)

	content, err := os.ReadFile(filepath.Join(dir, "pages/example.com/abc.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(content))

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", strings.NewReader("x"))
	require.ErrorContains(t, err, "escapes")

	_, err = store.PutObject(context.Background(), " ", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}
