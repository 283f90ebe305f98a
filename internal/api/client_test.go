package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot-ai/conversational-client/pkg/logger"
)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func freshToken(t *testing.T) string {
	return mintToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func apiServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCredential(t *testing.T) {
	log := logger.NewNop()

	t.Run("valid token", func(t *testing.T) {
		c := NewCredential(freshToken(t), log)
		assert.True(t, c.Valid())
		assert.Equal(t, "user-1", c.UserID())
		assert.NotEmpty(t, c.Token())
	})

	t.Run("empty token is guest", func(t *testing.T) {
		c := NewCredential("", log)
		assert.False(t, c.Valid())
		assert.Empty(t, c.Token())
	})

	t.Run("garbage token is guest", func(t *testing.T) {
		c := NewCredential("not-a-jwt", log)
		assert.False(t, c.Valid())
		assert.Empty(t, c.Token())
	})

	t.Run("expired token is guest", func(t *testing.T) {
		token := mintToken(t, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-time.Minute).Unix(),
		})
		c := NewCredential(token, log)
		assert.False(t, c.Valid())
		assert.Empty(t, c.Token(), "an expired token must never go on the wire")
	})

	t.Run("nearly expired token is guest", func(t *testing.T) {
		token := mintToken(t, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(10 * time.Second).Unix(),
		})
		assert.False(t, NewCredential(token, log).Valid())
	})
}

func TestListConversations(t *testing.T) {
	token := freshToken(t)
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		io.WriteString(w, `{"conversations":[
			{"id":"c1","title":"First","updated_at":"2026-08-01T10:00:00Z"},
			{"id":"c2","title":"Second","updated_at":"2026-08-02T10:00:00Z"}
		]}`)
	})

	c := NewClient(srv.URL, token, time.Second, logger.NewNop())
	require.True(t, c.Authenticated())

	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, "Second", convs[1].Title)
}

func TestGetMessagesNormalizesRunRows(t *testing.T) {
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		io.WriteString(w, `{"messages":[
			{"id":"r2","input":"second question","output":"second answer","created_at":"2026-08-01T10:05:00Z"},
			{"id":"m1","role":"system","content":"welcome","created_at":"2026-08-01T09:00:00Z"},
			{"id":"r1","input":"first question","output":"first answer","created_at":"2026-08-01T10:00:00Z"}
		]}`)
	})

	c := NewClient(srv.URL, freshToken(t), time.Second, logger.NewNop())
	msgs, err := c.GetMessages(context.Background(), "c1")
	require.NoError(t, err)

	require.Len(t, msgs, 5)
	// Chronological order regardless of the server's row order, with each
	// run expanded into its user/assistant halves.
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "r1-input", "r1-output", "r2-input", "r2-output"}, ids)
	assert.Equal(t, "first question", msgs[1].Content)
	assert.True(t, msgs[1].CreatedAt.Before(msgs[2].CreatedAt), "the output half sorts after its input")
}

func TestDeleteConversations(t *testing.T) {
	var gotBody map[string][]string
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	})

	c := NewClient(srv.URL, freshToken(t), time.Second, logger.NewNop())
	require.NoError(t, c.DeleteConversations(context.Background(), []string{"c1", "c2"}))
	assert.Equal(t, map[string][]string{"conversationIds": {"c1", "c2"}}, gotBody)
}

func TestDeleteConversation(t *testing.T) {
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/conversations/c1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	c := NewClient(srv.URL, freshToken(t), time.Second, logger.NewNop())
	require.NoError(t, c.DeleteConversation(context.Background(), "c1"))
}

func TestErrorResponseDecoding(t *testing.T) {
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"not your conversation"}`)
	})

	c := NewClient(srv.URL, freshToken(t), time.Second, logger.NewNop())
	_, err := c.ListConversations(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "not your conversation", apiErr.Message)
}

func TestErrorResponseFallsBackToStatusLine(t *testing.T) {
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain text", http.StatusBadGateway)
	})

	c := NewClient(srv.URL, freshToken(t), time.Second, logger.NewNop())
	_, err := c.ListConversations(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Message, "502")
}

func TestUploadDocument(t *testing.T) {
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "report.pdf", header.Filename)

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-fake", string(data))

		json.NewEncoder(w).Encode(DocumentUpload{
			Filename: "report.pdf", Content: "extracted", Size: 9, Tokens: 2,
		})
	})

	c := NewClient(srv.URL, freshToken(t), time.Second, logger.NewNop())
	upload, err := c.UploadDocument(context.Background(), "report.pdf", strings.NewReader("%PDF-fake"))
	require.NoError(t, err)
	assert.Equal(t, "extracted", upload.Content)
	assert.Equal(t, "report.pdf", upload.Filename)
}
