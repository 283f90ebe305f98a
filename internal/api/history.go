package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/taskpilot-ai/conversational-client/internal/model"
)

// messageRow is the wire shape of one durable row. The store returns either
// message rows (role + content) or run rows (input/output pairs); both are
// normalized to model.Message.
type messageRow struct {
	ID        string    `json:"id"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListConversations fetches the conversation summary list.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/conversations", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode conversation list: %w", err)
	}
	return payload.Conversations, nil
}

// GetMessages fetches the ordered message log for a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Messages []messageRow `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}

	messages := make([]model.Message, 0, len(payload.Messages))
	for _, row := range payload.Messages {
		messages = append(messages, normalizeRow(row)...)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// normalizeRow expands a run row into its user and assistant halves. A plain
// message row maps one to one.
func normalizeRow(row messageRow) []model.Message {
	if row.Role != "" {
		return []model.Message{{
			ID:        row.ID,
			Role:      model.Role(row.Role),
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		}}
	}

	var out []model.Message
	if row.Input != "" {
		out = append(out, model.Message{
			ID:        row.ID + "-input",
			Role:      model.RoleUser,
			Content:   row.Input,
			CreatedAt: row.CreatedAt,
		})
	}
	if row.Output != "" {
		out = append(out, model.Message{
			ID:        row.ID + "-output",
			Role:      model.RoleAssistant,
			Content:   row.Output,
			CreatedAt: row.CreatedAt.Add(time.Millisecond),
		})
	}
	return out
}

// DeleteConversation deletes a single conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/conversations/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	resp.Body.Close()
	return nil
}

// DeleteConversations deletes a batch of conversations in one call.
func (c *Client) DeleteConversations(ctx context.Context, ids []string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/conversations", map[string][]string{
		"conversationIds": ids,
	})
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	resp.Body.Close()
	return nil
}

// DocumentUpload is the server's response to a document extraction upload.
type DocumentUpload struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Tokens   int    `json:"tokens"`
}

// UploadDocument posts a document file for server-side text extraction.
func (c *Client) UploadDocument(ctx context.Context, name string, r io.Reader) (*DocumentUpload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create multipart: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}
	defer resp.Body.Close()

	var upload DocumentUpload
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &upload, nil
}
