package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskpilot-ai/conversational-client/internal/model"
	"github.com/taskpilot-ai/conversational-client/pkg/metrics"
)

// snapshot captures the visible state an optimistic mutation may need to
// restore. Restore overwrites with the snapshot wholesale; unrelated edits
// made while the request was in flight are lost. That is the accepted
// trade-off rather than a partial patch.
type snapshot struct {
	conversations []model.Conversation
	activeID      string
	messages      []model.Message
	selection     map[string]struct{}
}

func (m *Manager) takeSnapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	sel := make(map[string]struct{}, len(m.selection))
	for id := range m.selection {
		sel[id] = struct{}{}
	}
	return snapshot{
		conversations: append([]model.Conversation(nil), m.conversations...),
		activeID:      m.activeID,
		messages:      append([]model.Message(nil), m.messages...),
		selection:     sel,
	}
}

func (m *Manager) restore(s snapshot) {
	m.mu.Lock()
	m.conversations = s.conversations
	m.activeID = s.activeID
	m.messages = s.messages
	m.selection = s.selection
	m.mu.Unlock()
	metrics.RollbacksTotal.Inc()
}

// Delete optimistically removes one conversation, then confirms server-side.
// On failure the pre-mutation list and active id are restored exactly.
func (m *Manager) Delete(ctx context.Context, id string) error {
	snap := m.takeSnapshot()

	m.mu.Lock()
	m.conversations = withoutConversations(m.conversations, map[string]struct{}{id: {}})
	delete(m.selection, id)
	if m.activeID == id {
		m.activeID = m.defaultActiveID()
		m.messages = nil
	}
	m.mu.Unlock()

	if err := m.api.DeleteConversation(ctx, id); err != nil {
		m.restore(snap)
		m.reportDiagnostic("could not delete conversation")
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// DeleteSelected applies the batch variant with the same optimistic/rollback
// discipline. Success clears the selection; failure restores both the list
// and the selection so the user can retry.
func (m *Manager) DeleteSelected(ctx context.Context) error {
	m.mu.Lock()
	if len(m.selection) == 0 {
		m.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(m.selection))
	drop := make(map[string]struct{}, len(m.selection))
	for id := range m.selection {
		ids = append(ids, id)
		drop[id] = struct{}{}
	}
	sort.Strings(ids)
	m.mu.Unlock()

	snap := m.takeSnapshot()

	m.mu.Lock()
	m.conversations = withoutConversations(m.conversations, drop)
	if _, active := drop[m.activeID]; active {
		m.activeID = m.defaultActiveID()
		m.messages = nil
	}
	m.selection = map[string]struct{}{}
	m.mu.Unlock()

	if err := m.api.DeleteConversations(ctx, ids); err != nil {
		m.restore(snap)
		m.reportDiagnostic("could not delete conversations")
		return fmt.Errorf("delete conversations: %w", err)
	}
	return nil
}

// ToggleSelect flips one conversation in or out of the selection set.
func (m *Manager) ToggleSelect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, selected := m.selection[id]; selected {
		delete(m.selection, id)
		return
	}
	m.selection[id] = struct{}{}
}

// SelectAll selects every conversation currently in the list.
func (m *Manager) SelectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selection = make(map[string]struct{}, len(m.conversations))
	for _, c := range m.conversations {
		m.selection[c.ID] = struct{}{}
	}
}

// ClearSelection empties the selection set.
func (m *Manager) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selection = map[string]struct{}{}
}

// Selected returns the selected conversation ids in stable order.
func (m *Manager) Selected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.selection))
	for id := range m.selection {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func withoutConversations(convs []model.Conversation, drop map[string]struct{}) []model.Conversation {
	kept := make([]model.Conversation, 0, len(convs))
	for _, c := range convs {
		if _, gone := drop[c.ID]; gone {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
