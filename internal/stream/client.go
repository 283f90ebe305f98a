// Package stream implements the client side of the turn streaming protocol.
//
// The assistant service answers a run request with a chunked body of
// line-delimited frames:
//
//	data: {"content": "<fragment>"}\n\n
//	data: {"error": "<message>"}\n\n
//	data: [DONE]\n\n
//
// terminated by the sentinel frame or by the transport closing.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot-ai/conversational-client/internal/model"
	"github.com/taskpilot-ai/conversational-client/pkg/logger"
	"github.com/taskpilot-ai/conversational-client/pkg/metrics"
)

const doneSentinel = "[DONE]"

var (
	dataPrefix = []byte("data:")
	frameSep   = []byte("\n\n")
)

// EventFunc receives each decoded stream event. Returning an error stops the
// read loop; the error is propagated out of Run.
type EventFunc func(ev model.StreamEvent) error

// Client opens turn streams against the assistant service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient constructs a stream client. The timeout bounds the whole stream,
// not individual reads; zero means no limit beyond the caller's context.
func NewClient(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

type runRequest struct {
	Input string `json:"input"`
}

// frame is the decoded payload of one data line.
type frame struct {
	Content *string `json:"content"`
	Error   *string `json:"error"`
}

// Run posts one turn and decodes the response stream, invoking fn per event.
// It returns the conversation id the server answered under (relevant when the
// turn was sent without one) and the first terminal error. Cancellation of
// ctx surfaces as ctx.Err(); callers treat that as a silent termination.
func (c *Client) Run(ctx context.Context, conversationID, input string, fn EventFunc) (string, error) {
	url := c.baseURL + "/runs"
	if conversationID != "" && conversationID != model.GuestConversationID {
		url = fmt.Sprintf("%s/conversations/%s/runs", c.baseURL, conversationID)
	}

	body, err := json.Marshal(runRequest{Input: input})
	if err != nil {
		return "", fmt.Errorf("marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("run request failed: %s", resp.Status)
	}

	serverConvID := resp.Header.Get("X-Conversation-ID")

	metrics.IncrementStreamsActive()
	defer metrics.DecrementStreamsActive()

	if err := c.decode(ctx, resp.Body, fn); err != nil {
		return serverConvID, err
	}
	return serverConvID, nil
}

// decode reads the body and emits events. Frames are delimited by a blank
// line, so a JSON payload split across two reads simply stays in the carry
// buffer until its terminator arrives.
func (c *Client) decode(ctx context.Context, r io.Reader, fn EventFunc) error {
	buf := make([]byte, 4096)
	var carry []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			carry = append(carry, buf[:n]...)
			done, derr := c.drain(&carry, fn)
			if derr != nil {
				return derr
			}
			if done {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				if len(carry) > 0 {
					c.logger.Debug("discarding unterminated trailing frame",
						zap.Int("bytes", len(carry)))
				}
				return fn(model.DoneEvent{})
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// drain emits every complete frame in the carry buffer. An undecodable frame
// is held for the next read; once more complete frames have arrived behind it
// it is considered garbage and dropped.
func (c *Client) drain(carry *[]byte, fn EventFunc) (bool, error) {
	for {
		idx := bytes.Index(*carry, frameSep)
		if idx < 0 {
			return false, nil
		}
		block := (*carry)[:idx]

		done, ok, err := c.emitBlock(block, fn)
		if err != nil {
			return false, err
		}
		if !ok {
			if bytes.Index((*carry)[idx+len(frameSep):], frameSep) < 0 {
				return false, nil
			}
			metrics.StreamFramesTotal.WithLabelValues("dropped").Inc()
			c.logger.Debug("dropping undecodable frame", zap.ByteString("frame", block))
			*carry = (*carry)[idx+len(frameSep):]
			continue
		}

		*carry = (*carry)[idx+len(frameSep):]
		if done {
			return true, nil
		}
	}
}

// emitBlock decodes one frame block. ok is false when a data payload failed
// to parse; done is true after a terminal event.
func (c *Client) emitBlock(block []byte, fn EventFunc) (done, ok bool, err error) {
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))

		if string(payload) == doneSentinel {
			metrics.StreamFramesTotal.WithLabelValues("done").Inc()
			if err := fn(model.DoneEvent{}); err != nil {
				return false, false, err
			}
			return true, true, nil
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			return false, false, nil
		}

		switch {
		case f.Error != nil:
			metrics.StreamFramesTotal.WithLabelValues("error").Inc()
			if err := fn(model.ErrorEvent{Message: *f.Error}); err != nil {
				return false, false, err
			}
			// An error frame is terminal.
			return true, true, nil
		case f.Content != nil:
			metrics.StreamFramesTotal.WithLabelValues("content").Inc()
			if err := fn(model.ContentEvent{Text: *f.Content}); err != nil {
				return false, false, err
			}
		}
	}
	return false, true, nil
}
