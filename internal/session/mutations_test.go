package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot-ai/conversational-client/internal/model"
	"github.com/taskpilot-ai/conversational-client/pkg/logger"
)

func threeConversations() []model.Conversation {
	return []model.Conversation{
		{ID: "c1", Title: "one"},
		{ID: "c2", Title: "two"},
		{ID: "c3", Title: "three"},
	}
}

func authedManager(api *fakeAPI) *Manager {
	api.authenticated = true
	return New(api, &fakeStreamer{}, nil, nil, logger.NewNop())
}

func TestDeleteRemovesAndConfirms(t *testing.T) {
	api := &fakeAPI{conversations: threeConversations()}
	m := authedManager(api)
	m.FetchConversations(context.Background())
	m.ToggleSelect("c2")

	require.NoError(t, m.Delete(context.Background(), "c2"))

	s := m.Snapshot()
	require.Len(t, s.Conversations, 2)
	assert.Equal(t, []string{"c2"}, api.deleted)
	assert.Empty(t, s.Selected, "a deleted conversation leaves the selection")
}

func TestDeleteRollsBackOnFailure(t *testing.T) {
	api := &fakeAPI{
		conversations: threeConversations(),
		messages:      map[string][]model.Message{"c1": {{ID: "m1", Content: "kept"}}},
	}
	m := authedManager(api)
	m.FetchConversations(context.Background())
	require.NoError(t, m.Open(context.Background(), "c1"))

	api.mu.Lock()
	api.deleteErr = errors.New("server said no")
	api.mu.Unlock()

	err := m.Delete(context.Background(), "c1")
	require.Error(t, err)

	s := m.Snapshot()
	assert.Len(t, s.Conversations, 3, "the optimistic removal is rolled back")
	assert.Equal(t, "c1", s.ActiveID, "the active conversation is restored")
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "kept", s.Messages[0].Content)
	assert.Equal(t, "could not delete conversation", s.Diagnostic)
}

func TestDeleteActiveSwitchesToNewChat(t *testing.T) {
	api := &fakeAPI{
		conversations: threeConversations(),
		messages:      map[string][]model.Message{"c1": {{ID: "m1"}}},
	}
	m := authedManager(api)
	m.FetchConversations(context.Background())
	require.NoError(t, m.Open(context.Background(), "c1"))

	require.NoError(t, m.Delete(context.Background(), "c1"))

	s := m.Snapshot()
	assert.Equal(t, "", s.ActiveID)
	assert.Empty(t, s.Messages)
}

func TestDeleteSelectedClearsSelectionOnSuccess(t *testing.T) {
	api := &fakeAPI{conversations: threeConversations()}
	m := authedManager(api)
	m.FetchConversations(context.Background())
	m.ToggleSelect("c1")
	m.ToggleSelect("c3")

	require.NoError(t, m.DeleteSelected(context.Background()))

	s := m.Snapshot()
	require.Len(t, s.Conversations, 1)
	assert.Equal(t, "c2", s.Conversations[0].ID)
	assert.Empty(t, s.Selected)

	require.Len(t, api.bulkCalls, 1)
	assert.Equal(t, []string{"c1", "c3"}, api.bulkCalls[0])
}

func TestDeleteSelectedRollsBackListAndSelection(t *testing.T) {
	api := &fakeAPI{conversations: threeConversations(), bulkErr: errors.New("503")}
	m := authedManager(api)
	m.FetchConversations(context.Background())
	m.SelectAll()

	err := m.DeleteSelected(context.Background())
	require.Error(t, err)

	s := m.Snapshot()
	assert.Len(t, s.Conversations, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, s.Selected, "the selection survives so the user can retry")
	assert.Equal(t, "could not delete conversations", s.Diagnostic)
}

func TestDeleteSelectedNoSelectionIsNoop(t *testing.T) {
	api := &fakeAPI{conversations: threeConversations()}
	m := authedManager(api)
	m.FetchConversations(context.Background())

	require.NoError(t, m.DeleteSelected(context.Background()))
	assert.Empty(t, api.bulkCalls)
	assert.Len(t, m.Snapshot().Conversations, 3)
}

func TestSelectionOperations(t *testing.T) {
	api := &fakeAPI{conversations: threeConversations()}
	m := authedManager(api)
	m.FetchConversations(context.Background())

	m.ToggleSelect("c1")
	m.ToggleSelect("c2")
	m.ToggleSelect("c1") // off again
	assert.Equal(t, []string{"c2"}, m.Selected())

	m.SelectAll()
	assert.Equal(t, []string{"c1", "c2", "c3"}, m.Selected())

	m.ClearSelection()
	assert.Empty(t, m.Selected())
}
