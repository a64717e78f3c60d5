// Package connector executes permitted actions against their backends. A
// connector receives the op, the validated params, and a short-lived vault
// handle; it never sees the raw credential row and never persists anything
// outside its own backend.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/edon-ai/edon/internal/vault"
)

// ErrDownstreamUnavailable signals the backend could not be reached at all.
// It maps to HTTP 503.
var ErrDownstreamUnavailable = errors.New("connector: downstream unavailable")

// ErrUnsupportedOp signals the connector does not implement the op.
var ErrUnsupportedOp = errors.New("connector: unsupported op")

// Result is the uniform outcome of one execution.
type Result struct {
	OK          bool
	Result      any
	Error       string
	Observation any
}

// Connector is anything that can execute ops for one tool.
type Connector interface {
	// Tool returns the tool name this connector serves.
	Tool() string

	// Execute runs one op. A Result with OK=false reports a backend-level
	// failure; a returned error reports a gateway-level one (unreachable
	// backend, missing credential field).
	Execute(ctx context.Context, op string, params map[string]any, cred vault.Handle) (Result, error)

	// Observe may produce a read-only observation confirming the result of
	// a successful op. Nil means nothing to observe.
	Observe(op string, result any) any
}

// Registry routes actions to connectors by tool name.
type Registry struct {
	byTool map[string]Connector
}

// NewRegistry builds a registry from the given connectors.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{byTool: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		r.byTool[c.Tool()] = c
	}
	return r
}

// Get returns the connector for a tool.
func (r *Registry) Get(tool string) (Connector, error) {
	c, ok := r.byTool[tool]
	if !ok {
		return nil, fmt.Errorf("connector: no connector for tool %q", tool)
	}
	return c, nil
}

// Tools lists the registered tool names, sorted.
func (r *Registry) Tools() []string {
	tools := make([]string, 0, len(r.byTool))
	for t := range r.byTool {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

// Dispatch executes the action and fills in the observation hook's output
// when the connector produced none itself.
func (r *Registry) Dispatch(ctx context.Context, tool, op string, params map[string]any, cred vault.Handle) (Result, error) {
	c, err := r.Get(tool)
	if err != nil {
		return Result{}, err
	}
	res, err := c.Execute(ctx, op, params, cred)
	if err != nil {
		return Result{}, err
	}
	if res.OK && res.Observation == nil {
		res.Observation = c.Observe(op, res.Result)
	}
	return res, nil
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
