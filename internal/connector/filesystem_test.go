package connector_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edon-ai/edon/internal/connector"
	"github.com/edon-ai/edon/internal/vault"
)

func TestFilesystemWriteReadList(t *testing.T) {
	fs := connector.NewFilesystem(t.TempDir())
	ctx := context.Background()

	res, err := fs.Execute(ctx, "write_file", map[string]any{
		"path":    "notes/todo.txt",
		"content": "ship it",
	}, vault.Handle{})
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = fs.Execute(ctx, "read_file", map[string]any{"path": "notes/todo.txt"}, vault.Handle{})
	require.NoError(t, err)
	require.True(t, res.OK)
	m := res.Result.(map[string]any)
	assert.Equal(t, "ship it", m["content"])

	res, err = fs.Execute(ctx, "list", map[string]any{"path": "notes"}, vault.Handle{})
	require.NoError(t, err)
	require.True(t, res.OK)
	entries := res.Result.(map[string]any)["entries"].([]string)
	assert.Equal(t, []string{"todo.txt"}, entries)
}

func TestFilesystemDelete(t *testing.T) {
	root := t.TempDir()
	fs := connector.NewFilesystem(root)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "gone.txt"), []byte("x"), 0o644))

	res, err := fs.Execute(ctx, "delete_file", map[string]any{"path": "gone.txt"}, vault.Handle{})
	require.NoError(t, err)
	assert.True(t, res.OK)

	_, statErr := os.Stat(filepath.Join(root, "gone.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFilesystemNeverReadsOutsideSandbox(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "sandbox")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("leak"), 0o644))

	fs := connector.NewFilesystem(root)
	ctx := context.Background()

	// Traversal is collapsed back under the root, so the real file one level
	// up is never reachable.
	for _, path := range []string{"../secret.txt", "../../secret.txt", "a/../../secret.txt"} {
		res, err := fs.Execute(ctx, "read_file", map[string]any{"path": path}, vault.Handle{})
		if err != nil {
			assert.ErrorIs(t, err, connector.ErrPathEscape, path)
			continue
		}
		require.False(t, res.OK, path)
		assert.Equal(t, "file not found", res.Error, path)
	}
}

func TestFilesystemUnconfiguredSandbox(t *testing.T) {
	fs := connector.NewFilesystem("")
	_, err := fs.Execute(context.Background(), "read_file", map[string]any{"path": "x"}, vault.Handle{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox is not configured")
}

func TestFilesystemMissingPathAndFile(t *testing.T) {
	fs := connector.NewFilesystem(t.TempDir())
	ctx := context.Background()

	res, err := fs.Execute(ctx, "read_file", map[string]any{}, vault.Handle{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "path is required", res.Error)

	res, err = fs.Execute(ctx, "read_file", map[string]any{"path": "nope.txt"}, vault.Handle{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "file not found", res.Error)
}

func TestFilesystemUnsupportedOp(t *testing.T) {
	fs := connector.NewFilesystem(t.TempDir())
	_, err := fs.Execute(context.Background(), "chmod", map[string]any{"path": "x"}, vault.Handle{})
	assert.True(t, errors.Is(err, connector.ErrUnsupportedOp))
}

func TestFilesystemObserveVerifiesWrite(t *testing.T) {
	fs := connector.NewFilesystem(t.TempDir())
	ctx := context.Background()

	res, err := fs.Execute(ctx, "write_file", map[string]any{
		"path":    "report.md",
		"content": "hello",
	}, vault.Handle{})
	require.NoError(t, err)

	obs := fs.Observe("write_file", res.Result)
	require.NotNil(t, obs)
	m := obs.(map[string]any)
	assert.Equal(t, true, m["verified"])
	assert.EqualValues(t, 5, m["size"])

	assert.Nil(t, fs.Observe("read_file", res.Result))
}
