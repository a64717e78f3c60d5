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

// Calendar keeps events in a sandbox directory, one JSON file per event.
type Calendar struct {
	dir string
}

// NewCalendar creates the connector rooted at dir.
func NewCalendar(dir string) *Calendar {
	return &Calendar{dir: dir}
}

// Tool implements Connector.
func (c *Calendar) Tool() string { return "calendar" }

type calendarEvent struct {
	EventID   string    `json:"event_id"`
	Title     string    `json:"title"`
	StartsAt  string    `json:"starts_at"`
	EndsAt    string    `json:"ends_at,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Execute implements Connector.
func (c *Calendar) Execute(ctx context.Context, op string, params map[string]any, _ vault.Handle) (Result, error) {
	switch op {
	case "create_event":
		title := stringParam(params, "title")
		if title == "" {
			return Result{OK: false, Error: "title is required"}, nil
		}
		event := calendarEvent{
			EventID:   "evt-" + uuid.NewString(),
			Title:     title,
			StartsAt:  stringParam(params, "starts_at"),
			EndsAt:    stringParam(params, "ends_at"),
			Attendees: recipientList(params),
			CreatedAt: time.Now().UTC(),
		}
		if err := c.save(event); err != nil {
			return Result{OK: false, Error: err.Error()}, nil
		}
		return Result{OK: true, Result: map[string]any{"event_id": event.EventID, "title": event.Title}}, nil

	case "read", "list", "search":
		events, err := c.list()
		if err != nil {
			return Result{OK: false, Error: err.Error()}, nil
		}
		return Result{OK: true, Result: map[string]any{"events": events, "count": len(events)}}, nil

	default:
		return Result{}, fmt.Errorf("%w: calendar.%s", ErrUnsupportedOp, op)
	}
}

// Observe confirms event creation by re-reading the stored event.
func (c *Calendar) Observe(op string, result any) any {
	if op != "create_event" {
		return nil
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	eventID, _ := m["event_id"].(string)
	if eventID == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Join(c.dir, eventID+".json")); err != nil {
		return map[string]any{"verified": false}
	}
	return map[string]any{"verified": true, "event_id": eventID}
}

func (c *Calendar) save(event calendarEvent) error {
	if c.dir == "" {
		return fmt.Errorf("calendar store is not configured")
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("calendar store unavailable")
	}
	raw, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("event is not serializable")
	}
	if err := os.WriteFile(filepath.Join(c.dir, event.EventID+".json"), raw, 0o600); err != nil {
		return fmt.Errorf("calendar store write failed")
	}
	return nil
}

func (c *Calendar) list() ([]calendarEvent, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calendar store unavailable")
	}
	var events []calendarEvent
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			continue
		}
		var event calendarEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
