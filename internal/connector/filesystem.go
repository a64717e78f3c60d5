package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edon-ai/edon/internal/vault"
)

// ErrPathEscape signals a path that resolves outside the sandbox root.
var ErrPathEscape = errors.New("connector: path escapes sandbox")

// Filesystem serves sandboxed file ops. Every path is resolved relative to
// the sandbox root and refused if it escapes it, symlink-free resolution via
// filepath.Clean on the joined path.
type Filesystem struct {
	root string
}

// NewFilesystem creates the connector rooted at dir.
func NewFilesystem(dir string) *Filesystem {
	return &Filesystem{root: dir}
}

// Tool implements Connector.
func (f *Filesystem) Tool() string { return "filesystem" }

// Execute implements Connector.
func (f *Filesystem) Execute(ctx context.Context, op string, params map[string]any, _ vault.Handle) (Result, error) {
	path := stringParam(params, "path")
	if path == "" {
		return Result{OK: false, Error: "path is required"}, nil
	}
	resolved, err := f.resolve(path)
	if err != nil {
		return Result{}, err
	}

	switch op {
	case "read_file", "read":
		data, err := os.ReadFile(resolved)
		if err != nil {
			return Result{OK: false, Error: readableFSError(err)}, nil
		}
		return Result{OK: true, Result: map[string]any{"path": path, "content": string(data)}}, nil

	case "write_file", "write":
		content := stringParam(params, "content")
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return Result{OK: false, Error: readableFSError(err)}, nil
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return Result{OK: false, Error: readableFSError(err)}, nil
		}
		return Result{OK: true, Result: map[string]any{"path": path, "bytes": len(content)}}, nil

	case "delete_file", "delete":
		if err := os.Remove(resolved); err != nil {
			return Result{OK: false, Error: readableFSError(err)}, nil
		}
		return Result{OK: true, Result: map[string]any{"path": path, "deleted": true}}, nil

	case "list":
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return Result{OK: false, Error: readableFSError(err)}, nil
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return Result{OK: true, Result: map[string]any{"path": path, "entries": names}}, nil

	default:
		return Result{}, fmt.Errorf("%w: filesystem.%s", ErrUnsupportedOp, op)
	}
}

// Observe confirms writes by stat-ing the written path.
func (f *Filesystem) Observe(op string, result any) any {
	if op != "write_file" && op != "write" {
		return nil
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	path, _ := m["path"].(string)
	resolved, err := f.resolve(path)
	if err != nil {
		return nil
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return map[string]any{"verified": false}
	}
	return map[string]any{"verified": true, "size": info.Size()}
}

// resolve joins path onto the sandbox root and rejects any escape.
func (f *Filesystem) resolve(path string) (string, error) {
	if f.root == "" {
		return "", fmt.Errorf("connector: filesystem sandbox is not configured")
	}
	joined := filepath.Join(f.root, filepath.Clean("/"+path))
	rel, err := filepath.Rel(f.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return joined, nil
}

// readableFSError strips OS paths out of error text before it can reach a
// response body.
func readableFSError(err error) string {
	switch {
	case os.IsNotExist(err):
		return "file not found"
	case os.IsPermission(err):
		return "permission denied"
	default:
		return "filesystem operation failed"
	}
}
