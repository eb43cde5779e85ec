// Package channel implements the per-project real-time relay: typed events
// fanned out over WebSocket connections, bridged across server nodes by the
// message bus.
package channel

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/devmate/devmate/pkg/filetree"
)

// EventType identifies the kind of a relay event.
type EventType string

const (
	// EventChatMessage carries a chat payload, plain or structured.
	EventChatMessage EventType = "chat-message"

	// EventPresence announces a participant joining or leaving a project.
	EventPresence EventType = "presence"

	// EventRunState announces a change in the project's preview run state,
	// carrying the preview URL once the server is up.
	EventRunState EventType = "run-state"
)

// AISenderID is the designated non-human participant id.
const AISenderID = "ai"

// Sender identifies the participant that published an event.
// A nil sender on a chat message means the AI participant.
type Sender struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Event is the wire shape relayed between participants of one project.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId"`
	Sender    *Sender   `json:"sender,omitempty"`
	Message   string    `json:"message,omitempty"`
	Presence  string    `json:"presence,omitempty"` // "join" or "leave"
	RunState  string    `json:"runState,omitempty"`
	URL       string    `json:"url,omitempty"`
	Origin    string    `json:"origin,omitempty"`   // relay node id, for loop prevention
	Timestamp time.Time `json:"timestamp"`
}

// FromAI reports whether the event was published by the AI participant.
func (e Event) FromAI() bool {
	return e.Sender == nil || e.Sender.ID == AISenderID
}

// Payload is the decoded chat message body: either plain text or a
// structured AI response that may carry a file-tree fragment.
type Payload interface {
	Text() string
}

// PlainMessage is freeform chat text.
type PlainMessage struct {
	Body string
}

func (p PlainMessage) Text() string { return p.Body }

// StructuredMessage is an AI response with optional file-tree fragment.
type StructuredMessage struct {
	Body     string
	FileTree filetree.Flat
}

func (s StructuredMessage) Text() string { return s.Body }

// structuredWire mirrors the original AI response shape:
// {"text": "...", "fileTree": {"a.txt": {"file": {"contents": "..."}}}}.
type structuredWire struct {
	Text     string        `json:"text"`
	FileTree filetree.Flat `json:"fileTree,omitempty"`
}

// ParsePayload decodes a chat message body exactly once at the channel
// boundary. Content that is not a structured object degrades to plain text;
// the caller never sees a parse error.
func ParsePayload(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return PlainMessage{Body: raw}
	}

	var wire structuredWire
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil || wire.Text == "" {
		return PlainMessage{Body: raw}
	}

	return StructuredMessage{Body: wire.Text, FileTree: wire.FileTree}
}
