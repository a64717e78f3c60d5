package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/edon-ai/edon/internal/vault"
)

const clawdbotInvokePath = "/tools/invoke"

// clawdbotResponse is the downstream gateway's wire shape.
type clawdbotResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ClawdbotProxy forwards invoke ops to the downstream bot gateway. The
// downstream URL and bearer secret come from the vault handle at execution
// time; the proxy holds no credentials of its own.
type ClawdbotProxy struct {
	client *http.Client
	logger *slog.Logger
}

// NewClawdbotProxy creates the proxy with a bounded-timeout client.
func NewClawdbotProxy(logger *slog.Logger) *ClawdbotProxy {
	return &ClawdbotProxy{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Tool implements Connector.
func (p *ClawdbotProxy) Tool() string { return "clawdbot" }

// Execute forwards one tool invocation downstream. Legacy credential payloads
// used gateway_url/gateway_token keys; both shapes are accepted.
func (p *ClawdbotProxy) Execute(ctx context.Context, op string, params map[string]any, cred vault.Handle) (Result, error) {
	if op != "invoke" {
		return Result{}, fmt.Errorf("%w: clawdbot.%s", ErrUnsupportedOp, op)
	}

	baseURL := cred.Field("base_url", "gateway_url")
	secret := cred.Field("secret", "gateway_token", "token")
	if baseURL == "" {
		return Result{}, fmt.Errorf("connector: clawdbot credential has no base_url")
	}

	payload := map[string]any{
		"tool": stringParam(params, "tool"),
	}
	if action := stringParam(params, "action"); action != "" {
		payload["action"] = action
	}
	if args, ok := params["args"].(map[string]any); ok {
		payload["args"] = args
	}
	if sessionKey := stringParam(params, "sessionKey"); sessionKey != "" {
		payload["sessionKey"] = sessionKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("connector: marshal clawdbot payload: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + clawdbotInvokePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("connector: build clawdbot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("clawdbot downstream unreachable", "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return Result{}, fmt.Errorf("connector: read clawdbot response: %w", err)
	}

	var down clawdbotResponse
	if err := json.Unmarshal(raw, &down); err != nil {
		// Non-JSON downstream bodies are reported as an opaque error, never
		// echoed back to the caller.
		p.logger.Warn("clawdbot returned non-JSON body", "status", resp.StatusCode)
		return Result{OK: false, Error: fmt.Sprintf("downstream returned status %d", resp.StatusCode)}, nil
	}

	if resp.StatusCode >= 400 {
		msg := down.Error
		if msg == "" {
			msg = fmt.Sprintf("downstream returned status %d", resp.StatusCode)
		}
		return Result{OK: false, Error: msg}, nil
	}

	var result any
	if len(down.Result) > 0 {
		if err := json.Unmarshal(down.Result, &result); err != nil {
			result = string(down.Result)
		}
	}
	return Result{OK: down.OK, Result: result, Error: down.Error}, nil
}

// Observe confirms session mutations came back with an identifier.
func (p *ClawdbotProxy) Observe(op string, result any) any {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"sessionKey", "session_id", "id"} {
		if v, ok := m[key]; ok {
			return map[string]any{"verified": true, "resource": v}
		}
	}
	return nil
}
