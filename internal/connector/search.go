package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edon-ai/edon/internal/vault"
)

// Search scans the sandbox for matching content. Read-only; the web search
// backend is deliberately not wired here, so a search never leaves the host.
type Search struct {
	root string
}

// NewSearch creates the connector over the sandbox root.
func NewSearch(root string) *Search {
	return &Search{root: root}
}

// Tool implements Connector.
func (s *Search) Tool() string { return "web" }

// Execute implements Connector.
func (s *Search) Execute(ctx context.Context, op string, params map[string]any, _ vault.Handle) (Result, error) {
	if op != "search" {
		return Result{}, fmt.Errorf("%w: web.%s", ErrUnsupportedOp, op)
	}
	query := stringParam(params, "query")
	if query == "" {
		return Result{OK: false, Error: "query is required"}, nil
	}

	var hits []map[string]any
	if s.root != "" {
		_ = filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || len(hits) >= 20 {
				return nil
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			if strings.Contains(strings.ToLower(string(raw)), strings.ToLower(query)) {
				rel, _ := filepath.Rel(s.root, path)
				hits = append(hits, map[string]any{"source": rel})
			}
			return nil
		})
	}
	return Result{OK: true, Result: map[string]any{
		"query":   query,
		"results": hits,
		"count":   len(hits),
	}}, nil
}

// Observe implements Connector.
func (s *Search) Observe(string, any) any { return nil }
