// Package realtime subscribes to server-pushed message inserts over NATS.
//
// This is the path by which a response generated by a backend-side worker,
// rather than the direct streaming call, still reaches the client.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/taskpilot-ai/conversational-client/internal/model"
	"github.com/taskpilot-ai/conversational-client/pkg/logger"
)

// subjectPrefix matches the server's conversation subject layout.
const subjectPrefix = "conv"

// Config holds realtime connection configuration.
type Config struct {
	URL   string
	Token string
}

// Client wraps the NATS connection used for push delivery.
type Client struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// Connect establishes the push channel connection.
func Connect(cfg Config, log *logger.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("realtime channel disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("realtime channel reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("realtime channel error", zap.Error(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect realtime channel: %w", err)
	}

	return &Client{conn: nc, logger: log}, nil
}

// SubscribeMessages delivers INSERT events for a single conversation. fn
// receives each server-persisted message row. The returned function
// unsubscribes and is safe to call more than once.
func (c *Client) SubscribeMessages(conversationID string, fn func(msg model.Message)) (func(), error) {
	subject := fmt.Sprintf("%s.%s.msg.insert", subjectPrefix, conversationID)

	sub, err := c.conn.Subscribe(subject, func(m *nats.Msg) {
		var msg model.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			c.logger.Warn("realtime payload decode failed",
				zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				c.logger.Warn("unsubscribe failed", zap.String("subject", subject), zap.Error(err))
			}
		})
	}, nil
}

// IsConnected reports connection health for diagnostics.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close tears down the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
