package tools

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brbranch/parmira/internal/model"
)

// DefaultFSMaxBytes はread_fileで返す最大バイト数
const DefaultFSMaxBytes = 64 << 10

const outsideRootMessage = "Access outside the filesystem root is forbidden."

// fsRoot はツールがアクセスできるディレクトリ
type fsRoot struct {
	root string
}

func newFSRoot(root string) fsRoot {
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return fsRoot{root: root}
}

// resolve はパスをroot配下の絶対パスにする（シンボリックリンクも解決して確認する）
func (r fsRoot) resolve(p string) (string, *Result) {
	if p == "" {
		p = "."
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.root, p)
	}
	full = filepath.Clean(full)
	if !r.contains(full) {
		return "", Failure(http.StatusForbidden, outsideRootMessage)
	}

	resolved, err := filepath.EvalSymlinks(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", Failure(http.StatusNotFound, "Path not found: %s", p)
	case err != nil:
		return "", Failure(http.StatusBadRequest, "Invalid path: %v", err)
	}
	if !r.contains(resolved) {
		return "", Failure(http.StatusForbidden, outsideRootMessage)
	}
	return resolved, nil
}

func (r fsRoot) contains(p string) bool {
	rel, err := filepath.Rel(r.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r fsRoot) display(p string) string {
	rel, err := filepath.Rel(r.root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

// ListFilesTool はディレクトリの内容を返す（list_files）
type ListFilesTool struct {
	fsRoot
}

// NewListFilesTool はListFilesToolを作成する
func NewListFilesTool(root string) *ListFilesTool {
	return &ListFilesTool{fsRoot: newFSRoot(root)}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List the entries of a directory under the workspace root."
}

func (t *ListFilesTool) Schema() model.JSONSchema {
	return objectSchema(map[string]model.JSONSchema{
		"path": prop("string", "Directory relative to the root (default: root)."),
	})
}

func (t *ListFilesTool) Call(ctx context.Context, args map[string]any) *Result {
	p, _ := stringArg(args, "path")
	dir, failure := t.resolve(p)
	if failure != nil {
		return failure
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Failure(http.StatusBadRequest, "Cannot list directory: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	list := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{"name": e.Name(), "type": "file"}
		if e.IsDir() {
			item["type"] = "dir"
		} else if info, err := e.Info(); err == nil {
			item["size"] = info.Size()
		}
		list = append(list, item)
	}
	return Success(map[string]any{
		"path":    t.display(dir),
		"entries": list,
		"count":   len(list),
	})
}

// ReadFileTool はファイルの先頭を返す（read_file）
type ReadFileTool struct {
	fsRoot
	maxBytes int
}

// NewReadFileTool はReadFileToolを作成する
func NewReadFileTool(root string, maxBytes int) *ReadFileTool {
	if maxBytes <= 0 {
		maxBytes = DefaultFSMaxBytes
	}
	return &ReadFileTool{fsRoot: newFSRoot(root), maxBytes: maxBytes}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a text file under the workspace root."
}

func (t *ReadFileTool) Schema() model.JSONSchema {
	return objectSchema(map[string]model.JSONSchema{
		"path": prop("string", "File path relative to the root."),
	}, "path")
}

func (t *ReadFileTool) Call(ctx context.Context, args map[string]any) *Result {
	p, _ := stringArg(args, "path")
	if p == "" {
		return Failure(http.StatusBadRequest, "path is required")
	}
	path, failure := t.resolve(p)
	if failure != nil {
		return failure
	}

	f, err := os.Open(path)
	if err != nil {
		return Failure(http.StatusBadRequest, "Cannot open file: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Failure(http.StatusBadRequest, "Cannot open file: %v", err)
	}
	if info.IsDir() {
		return Failure(http.StatusBadRequest, "Path is a directory: %s", p)
	}

	data, err := io.ReadAll(io.LimitReader(f, int64(t.maxBytes)))
	if err != nil {
		return Failure(http.StatusInternalServerError, "Cannot read file: %v", err)
	}
	return Success(map[string]any{
		"path":      t.display(path),
		"size":      info.Size(),
		"content":   string(data),
		"truncated": info.Size() > int64(len(data)),
	})
}
