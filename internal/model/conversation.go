package model

import (
	"time"
)

// GuestConversationID is the pseudo-id of the in-memory conversation used by
// unauthenticated sessions. It never appears in the durable store.
const GuestConversationID = "guest"

// Conversation is a summary row. The full message log is loaded lazily when
// the conversation becomes active.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Phase is the session lifecycle state. It is the single governing field for
// input affordances and for refusing overlapping operations.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseStreaming Phase = "streaming"
	PhaseUploading Phase = "uploading"
	PhaseError     Phase = "error"
)

// Busy reports whether a turn is in flight and a new send must be refused.
func (p Phase) Busy() bool {
	return p == PhaseLoading || p == PhaseStreaming
}
