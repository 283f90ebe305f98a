package session

import (
	"sort"

	"github.com/taskpilot-ai/conversational-client/internal/model"
)

// State is a copy of the session's visible state, safe to render from any
// goroutine.
type State struct {
	Phase         model.Phase               `json:"phase"`
	ActiveID      string                    `json:"active_id"`
	Conversations []model.Conversation      `json:"conversations"`
	Messages      []model.Message           `json:"messages"`
	StreamText    string                    `json:"stream_text,omitempty"`
	Suggestion    *model.ProjectSuggestion  `json:"suggestion,omitempty"`
	Breakdown     []model.BreakdownItem     `json:"breakdown,omitempty"`
	Selected      []string                  `json:"selected,omitempty"`
	Diagnostic    string                    `json:"diagnostic,omitempty"`
	Authenticated bool                      `json:"authenticated"`
}

// Snapshot returns a copy of the current visible state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	selected := make([]string, 0, len(m.selection))
	for id := range m.selection {
		selected = append(selected, id)
	}
	sort.Strings(selected)

	var suggestion *model.ProjectSuggestion
	if s := m.extractor.Suggestion(); s != nil {
		copied := *s
		suggestion = &copied
	}

	return State{
		Phase:         m.phase,
		ActiveID:      m.activeID,
		Conversations: append([]model.Conversation(nil), m.conversations...),
		Messages:      append([]model.Message(nil), m.messages...),
		StreamText:    m.buffer.String(),
		Suggestion:    suggestion,
		Breakdown:     append([]model.BreakdownItem(nil), m.extractor.Breakdown()...),
		Selected:      selected,
		Diagnostic:    m.diagnostic,
		Authenticated: m.api.Authenticated(),
	}
}
