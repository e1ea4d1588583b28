package tools

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("nested"), 0644))
	return root
}

func TestListFilesTool(t *testing.T) {
	root := newFSFixture(t)
	tool := NewListFilesTool(root)

	res := tool.Call(context.Background(), map[string]any{})
	require.Equal(t, http.StatusOK, res.Code, res.Detail)
	assert.Equal(t, ".", res.Fields["path"])
	assert.Equal(t, 2, res.Fields["count"])

	entries := res.Fields["entries"].([]map[string]any)
	assert.Equal(t, "a.txt", entries[0]["name"])
	assert.Equal(t, "file", entries[0]["type"])
	assert.Equal(t, int64(11), entries[0]["size"])
	assert.Equal(t, "dir", entries[1]["type"])

	res = tool.Call(context.Background(), map[string]any{"path": "sub"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "sub", res.Fields["path"])

	res = tool.Call(context.Background(), map[string]any{"path": "nope"})
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestReadFileTool(t *testing.T) {
	root := newFSFixture(t)

	res := NewReadFileTool(root, 0).Call(context.Background(), map[string]any{"path": "sub/b.txt"})
	require.Equal(t, http.StatusOK, res.Code, res.Detail)
	assert.Equal(t, "nested", res.Fields["content"])
	assert.Equal(t, false, res.Fields["truncated"])

	res = NewReadFileTool(root, 5).Call(context.Background(), map[string]any{"path": "a.txt"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "hello", res.Fields["content"])
	assert.Equal(t, true, res.Fields["truncated"])

	res = NewReadFileTool(root, 0).Call(context.Background(), map[string]any{"path": "sub"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = NewReadFileTool(root, 0).Call(context.Background(), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestFSTools_Confinement(t *testing.T) {
	root := newFSFixture(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	read := NewReadFileTool(root, 0)
	for _, p := range []string{
		"../secret.txt",
		"sub/../../secret.txt",
		filepath.Join(outside, "secret.txt"),
		"link/secret.txt",
	} {
		res := read.Call(context.Background(), map[string]any{"path": p})
		assert.Equal(t, http.StatusForbidden, res.Code, p)
		assert.Equal(t, outsideRootMessage, res.Detail)
	}

	res := NewListFilesTool(root).Call(context.Background(), map[string]any{"path": ".."})
	assert.Equal(t, http.StatusForbidden, res.Code)
}
