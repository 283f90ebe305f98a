// Package api provides the REST client for the durable conversation store.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskpilot-ai/conversational-client/pkg/logger"
)

// Client calls the conversation store over HTTP.
type Client struct {
	baseURL    string
	credential *Credential
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient constructs a store client. An empty token yields a guest client:
// all durable operations are refused locally and Authenticated reports false.
func NewClient(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: NewCredential(token, log),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Authenticated reports whether the client holds a usable credential.
func (c *Client) Authenticated() bool {
	return c.credential.Valid()
}

// APIError represents a non-2xx response from the store.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}

// do issues a request with auth and JSON headers and returns the response
// after status checking. Callers own closing the body on success.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if token := c.credential.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// decodeError extracts the server's error message, falling back to the
// HTTP status line when the body is not the usual {"error": ...} shape.
func decodeError(resp *http.Response) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	message := resp.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}
