package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edon-ai/edon/internal/vault"
)

// Notes is a small sandboxed note store, one markdown file per note.
type Notes struct {
	dir string
}

// NewNotes creates the connector rooted at dir.
func NewNotes(dir string) *Notes {
	return &Notes{dir: dir}
}

// Tool implements Connector.
func (n *Notes) Tool() string { return "notes" }

// Execute implements Connector.
func (n *Notes) Execute(ctx context.Context, op string, params map[string]any, _ vault.Handle) (Result, error) {
	switch op {
	case "read":
		name := noteName(params)
		if name == "" {
			return Result{OK: false, Error: "name is required"}, nil
		}
		raw, err := os.ReadFile(n.path(name))
		if err != nil {
			return Result{OK: false, Error: "note not found"}, nil
		}
		return Result{OK: true, Result: map[string]any{"name": name, "content": string(raw)}}, nil

	case "write":
		name := noteName(params)
		if name == "" {
			return Result{OK: false, Error: "name is required"}, nil
		}
		if err := os.MkdirAll(n.dir, 0o755); err != nil {
			return Result{OK: false, Error: "note store unavailable"}, nil
		}
		content := stringParam(params, "content")
		if err := os.WriteFile(n.path(name), []byte(content), 0o644); err != nil {
			return Result{OK: false, Error: "note store write failed"}, nil
		}
		return Result{OK: true, Result: map[string]any{"name": name, "bytes": len(content)}}, nil

	case "search", "summarize", "list":
		query := strings.ToLower(stringParam(params, "query"))
		entries, err := os.ReadDir(n.dir)
		if os.IsNotExist(err) {
			return Result{OK: true, Result: map[string]any{"notes": []string{}, "count": 0}}, nil
		}
		if err != nil {
			return Result{OK: false, Error: "note store unavailable"}, nil
		}
		var names []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".md")
			if query == "" || strings.Contains(strings.ToLower(name), query) {
				names = append(names, name)
			}
		}
		return Result{OK: true, Result: map[string]any{"notes": names, "count": len(names)}}, nil

	default:
		return Result{}, fmt.Errorf("%w: notes.%s", ErrUnsupportedOp, op)
	}
}

// Observe implements Connector.
func (n *Notes) Observe(string, any) any { return nil }

func (n *Notes) path(name string) string {
	return filepath.Join(n.dir, filepath.Base(name)+".md")
}

func noteName(params map[string]any) string {
	for _, key := range []string{"name", "title"} {
		if s := stringParam(params, key); s != "" {
			return s
		}
	}
	return ""
}
