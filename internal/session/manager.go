// Package session implements the conversation session manager: the single
// source of truth for the conversation list, the active message log, and the
// request lifecycle, and the coordinator for streaming turns, push-delivered
// rows, and optimistic mutations.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/taskpilot-ai/conversational-client/internal/attach"
	"github.com/taskpilot-ai/conversational-client/internal/marker"
	"github.com/taskpilot-ai/conversational-client/internal/model"
	"github.com/taskpilot-ai/conversational-client/internal/stream"
	"github.com/taskpilot-ai/conversational-client/pkg/logger"
	"github.com/taskpilot-ai/conversational-client/pkg/metrics"
)

// reconcileTimeout bounds the history refetch and the polling fetches; these
// run on background contexts so a finished turn is never cancelled mid-reconcile.
const reconcileTimeout = 15 * time.Second

var (
	// ErrEmptyMessage is returned when both text and attachments are empty.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTurnInFlight is returned when a send arrives while a turn is
	// already streaming. The send is dropped, not queued.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// errSuperseded stops a stream read loop whose turn was cancelled or
	// replaced. It is a silent termination, never a user-facing error.
	errSuperseded = errors.New("turn superseded")
)

// HistoryAPI is the durable conversation store, reached over REST.
type HistoryAPI interface {
	Authenticated() bool
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	DeleteConversation(ctx context.Context, id string) error
	DeleteConversations(ctx context.Context, ids []string) error
}

// TurnStreamer opens the streamed run request for one turn.
type TurnStreamer interface {
	Run(ctx context.Context, conversationID, input string, fn stream.EventFunc) (string, error)
}

// Realtime delivers server-pushed message inserts.
type Realtime interface {
	SubscribeMessages(conversationID string, fn func(msg model.Message)) (func(), error)
}

// AttachmentProcessor prepares files for an outgoing message.
type AttachmentProcessor interface {
	Process(ctx context.Context, f attach.File) (*attach.Result, error)
}

// Manager owns all session state. Construct one per process; consumers hold
// the reference. All state mutation happens under the manager lock because
// push events arrive on the realtime connection's goroutine.
type Manager struct {
	api      HistoryAPI
	streamer TurnStreamer
	realtime Realtime
	pipeline AttachmentProcessor
	logger   *logger.Logger
	tracer   trace.Tracer

	// OnFragment receives the cleaned display text of the in-flight
	// response after each fragment. OnSuggestion fires when a decoded
	// marker payload changes. OnDiagnostic receives short user-facing
	// status strings. Hooks are invoked without the lock held and must be
	// set before the first operation.
	OnFragment   func(display string)
	OnSuggestion func(s *model.ProjectSuggestion, items []model.BreakdownItem)
	OnDiagnostic func(msg string)

	mu            sync.Mutex
	phase         model.Phase
	conversations []model.Conversation
	activeID      string
	messages      []model.Message
	guestLog      []model.Message
	selection     map[string]struct{}
	pendingLocal  map[string]struct{}
	buffer        strings.Builder
	extractor     *marker.Extractor
	streamErr     error
	cancelStream  context.CancelFunc
	turn          uint64
	unsubscribe   func()
	pollStop      chan struct{}
	diagnostic    string
}

// New constructs a session manager. realtime and pipeline may be nil; the
// corresponding operations then degrade to no-ops or local errors.
func New(histAPI HistoryAPI, streamer TurnStreamer, rt Realtime, pipeline AttachmentProcessor, log *logger.Logger) *Manager {
	m := &Manager{
		api:          histAPI,
		streamer:     streamer,
		realtime:     rt,
		pipeline:     pipeline,
		logger:       log,
		tracer:       otel.Tracer("session"),
		phase:        model.PhaseIdle,
		selection:    map[string]struct{}{},
		pendingLocal: map[string]struct{}{},
		extractor:    marker.New(),
	}
	m.activeID = m.defaultActiveID()
	return m
}

func (m *Manager) defaultActiveID() string {
	if m.api.Authenticated() {
		// Empty means "new chat": the first successful turn learns the
		// real id from the server's response.
		return ""
	}
	return model.GuestConversationID
}

// FetchConversations loads the summary list for the signed-in identity.
// Guests get a silent no-op. Failures leave prior state untouched.
func (m *Manager) FetchConversations(ctx context.Context) {
	if !m.api.Authenticated() {
		return
	}
	convs, err := m.api.ListConversations(ctx)
	if err != nil {
		m.logger.Warn("conversation list fetch failed", zap.Error(err))
		m.reportDiagnostic("could not load conversations")
		return
	}
	m.mu.Lock()
	m.conversations = convs
	m.mu.Unlock()
}

// Open activates a conversation, cancelling any in-flight stream and loading
// its log from the durable store (or the in-memory buffer for guests).
func (m *Manager) Open(ctx context.Context, id string) error {
	m.CancelStream()

	m.mu.Lock()
	m.phase = model.PhaseLoading
	m.activeID = id
	m.messages = nil
	m.pendingLocal = map[string]struct{}{}
	m.mu.Unlock()

	if id == model.GuestConversationID {
		m.mu.Lock()
		m.messages = append([]model.Message(nil), m.guestLog...)
		m.phase = model.PhaseIdle
		m.mu.Unlock()
		return nil
	}

	msgs, err := m.api.GetMessages(ctx, id)

	m.mu.Lock()
	if m.activeID != id {
		// The user moved on while the load was in flight.
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.phase = model.PhaseError
		m.mu.Unlock()
		m.reportDiagnostic("could not load conversation")
		return fmt.Errorf("load conversation: %w", err)
	}
	m.messages = msgs
	m.phase = model.PhaseIdle
	m.mu.Unlock()
	return nil
}

// StartNew resets to an empty conversation without a network call. The next
// successful turn determines the real conversation id.
func (m *Manager) StartNew() {
	m.CancelStream()

	m.mu.Lock()
	m.activeID = m.defaultActiveID()
	if m.activeID == model.GuestConversationID {
		m.guestLog = nil
	}
	m.messages = nil
	m.pendingLocal = map[string]struct{}{}
	m.phase = model.PhaseIdle
	m.mu.Unlock()
}

// Send submits one turn and blocks until the stream completes, fails, or is
// cancelled. A send while a turn is in flight is dropped with
// ErrTurnInFlight.
func (m *Manager) Send(ctx context.Context, text string, attachments []model.Attachment) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	if m.phase.Busy() {
		m.mu.Unlock()
		return ErrTurnInFlight
	}
	m.turn++
	turn := m.turn
	convID := m.activeID
	m.phase = model.PhaseLoading
	m.buffer.Reset()
	m.extractor.Reset()
	m.streamErr = nil

	runCtx, cancel := context.WithCancel(ctx)
	m.cancelStream = cancel

	userMsg := model.Message{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Role:        model.RoleUser,
		Content:     text,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}
	m.messages = append(m.messages, userMsg)
	m.pendingLocal[userMsg.ID] = struct{}{}
	m.mu.Unlock()

	spanCtx, span := m.tracer.Start(runCtx, "session.turn")
	start := time.Now()
	serverConvID, runErr := m.streamer.Run(spanCtx, convID, text, m.handleEvent(turn))
	span.End()
	cancel()

	return m.finishTurn(turn, convID, serverConvID, userMsg, runErr, time.Since(start))
}

// handleEvent builds the per-turn event callback. Every effect is guarded by
// the turn identity so late frames from an abandoned request can never touch
// the now-active conversation.
func (m *Manager) handleEvent(turn uint64) stream.EventFunc {
	return func(ev model.StreamEvent) error {
		m.mu.Lock()
		if m.turn != turn {
			m.mu.Unlock()
			return errSuperseded
		}

		var (
			display  string
			fragment bool
			changed  bool
			sugg     *model.ProjectSuggestion
			items    []model.BreakdownItem
		)
		switch e := ev.(type) {
		case model.ContentEvent:
			if m.phase == model.PhaseLoading {
				m.phase = model.PhaseStreaming
			}
			m.buffer.WriteString(e.Text)
			full := m.buffer.String()
			changed = m.extractor.Scan(full)
			display = marker.Clean(full)
			fragment = true
			sugg = m.extractor.Suggestion()
			items = m.extractor.Breakdown()
		case model.ErrorEvent:
			m.streamErr = errors.New(e.Message)
		case model.DoneEvent:
		}
		m.mu.Unlock()

		if fragment && m.OnFragment != nil {
			m.OnFragment(display)
		}
		if changed && m.OnSuggestion != nil {
			m.OnSuggestion(sugg, items)
		}
		return nil
	}
}

func (m *Manager) finishTurn(turn uint64, convID, serverConvID string, userMsg model.Message, runErr error, elapsed time.Duration) error {
	m.mu.Lock()
	if m.turn != turn {
		// Superseded by a cancel, a conversation switch, or a reset; the
		// superseding operation already owns the state. The optimistic
		// entry is retracted if it is still visible.
		m.dropLocalLocked(userMsg.ID)
		m.mu.Unlock()
		metrics.RecordTurn("cancelled", elapsed.Seconds())
		return nil
	}

	full := m.buffer.String()
	streamErr := m.streamErr
	m.buffer.Reset()
	m.streamErr = nil
	m.cancelStream = nil

	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, errSuperseded) {
		m.dropLocalLocked(userMsg.ID)
		m.phase = model.PhaseIdle
		m.mu.Unlock()
		metrics.RecordTurn("cancelled", elapsed.Seconds())
		return nil
	}

	if runErr != nil || streamErr != nil {
		m.dropLocalLocked(userMsg.ID)
		m.phase = model.PhaseError
		m.mu.Unlock()
		cause := runErr
		if cause == nil {
			cause = streamErr
		}
		m.logger.Warn("turn failed", zap.String("conversation_id", convID), zap.Error(cause))
		m.reportDiagnostic("assistant request failed")
		metrics.RecordTurn("error", elapsed.Seconds())
		return fmt.Errorf("turn failed: %w", cause)
	}

	if convID == model.GuestConversationID {
		assistant := model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Role:      model.RoleAssistant,
			Content:   marker.Clean(full),
			CreatedAt: time.Now(),
		}
		delete(m.pendingLocal, userMsg.ID)
		m.guestLog = append(m.guestLog, userMsg, assistant)
		m.messages = append([]model.Message(nil), m.guestLog...)
		m.phase = model.PhaseIdle
		m.mu.Unlock()
		metrics.RecordTurn("success", elapsed.Seconds())
		return nil
	}

	if convID == "" {
		if serverConvID == "" {
			// The server answered but never told us which conversation it
			// created; nothing durable to reconcile against.
			m.phase = model.PhaseIdle
			m.mu.Unlock()
			metrics.RecordTurn("success", elapsed.Seconds())
			return nil
		}
		m.activeID = serverConvID
		convID = serverConvID
	}
	m.mu.Unlock()

	m.reconcile(turn, convID)
	metrics.RecordTurn("success", elapsed.Seconds())
	return nil
}

// reconcile replaces optimistic entries with server-confirmed rows. Rows that
// already arrived over the push channel keep their first-written copy;
// duplicates from the fetch are ignored.
func (m *Manager) reconcile(turn uint64, convID string) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	rows, err := m.api.GetMessages(ctx, convID)

	m.mu.Lock()
	if m.turn != turn || m.activeID != convID {
		m.mu.Unlock()
		return
	}
	if err != nil {
		// The push subscription may still deliver the rows; keep what we
		// have and report.
		m.phase = model.PhaseIdle
		m.mu.Unlock()
		m.logger.Warn("history refetch failed",
			zap.String("conversation_id", convID), zap.Error(err))
		m.reportDiagnostic("could not refresh conversation history")
		return
	}

	kept := make([]model.Message, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, msg := range m.messages {
		if _, local := m.pendingLocal[msg.ID]; local {
			continue
		}
		kept = append(kept, msg)
		seen[msg.ID] = struct{}{}
	}
	for _, row := range rows {
		if _, dup := seen[row.ID]; dup {
			continue
		}
		kept = append(kept, row)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.Before(kept[j].CreatedAt)
	})
	m.messages = kept
	m.pendingLocal = map[string]struct{}{}
	m.phase = model.PhaseIdle
	m.mu.Unlock()
}

// CancelStream aborts any in-flight read. Idempotent and safe from any
// goroutine; invoked automatically on new turns, conversation switches, and
// resets.
func (m *Manager) CancelStream() {
	m.mu.Lock()
	cancel := m.cancelStream
	m.cancelStream = nil
	m.turn++
	m.buffer.Reset()
	m.streamErr = nil
	if m.phase != model.PhaseUploading {
		m.phase = model.PhaseIdle
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// SubscribeToMessages establishes the push channel for one conversation,
// merging each delivered row into the log unless its id is already present.
// At most one subscription is live per manager; a new one replaces the old.
func (m *Manager) SubscribeToMessages(conversationID string) (func(), error) {
	if m.realtime == nil {
		return func() {}, nil
	}
	unsub, err := m.realtime.SubscribeMessages(conversationID, func(msg model.Message) {
		m.applyInsert(conversationID, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to messages: %w", err)
	}

	m.mu.Lock()
	prev := m.unsubscribe
	m.unsubscribe = unsub
	m.mu.Unlock()
	if prev != nil {
		prev()
	}
	return unsub, nil
}

func (m *Manager) applyInsert(conversationID string, msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID != conversationID {
		metrics.RealtimeEventsTotal.WithLabelValues("stale").Inc()
		return
	}
	for _, existing := range m.messages {
		if existing.ID == msg.ID {
			metrics.RealtimeEventsTotal.WithLabelValues("duplicate").Inc()
			return
		}
	}
	m.messages = append(m.messages, msg)
	metrics.RealtimeEventsTotal.WithLabelValues("applied").Inc()
}

// ProcessAttachments runs every file through the pipeline, returning the
// attachments for the outgoing message and any text to inline into it. The
// session is in the uploading phase for the duration, cleared on every exit
// path.
func (m *Manager) ProcessAttachments(ctx context.Context, files []attach.File) ([]model.Attachment, string, error) {
	if m.pipeline == nil {
		return nil, "", errors.New("no attachment pipeline configured")
	}

	m.mu.Lock()
	if m.phase.Busy() {
		m.mu.Unlock()
		return nil, "", ErrTurnInFlight
	}
	m.phase = model.PhaseUploading
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.phase == model.PhaseUploading {
			m.phase = model.PhaseIdle
		}
		m.mu.Unlock()
	}()

	var (
		attachments []model.Attachment
		inline      strings.Builder
	)
	for _, f := range files {
		res, err := m.pipeline.Process(ctx, f)
		if err != nil {
			m.reportDiagnostic("attachment failed: " + f.Name)
			return nil, "", err
		}
		if res.Attachment != nil {
			attachments = append(attachments, *res.Attachment)
		}
		inline.WriteString(res.InlineText)
	}
	return attachments, inline.String(), nil
}

// StartConversationPolling refreshes the conversation list on a fixed
// interval, picking up titles and suggestions generated asynchronously
// server-side. No-op for guests or when already polling.
func (m *Manager) StartConversationPolling(interval time.Duration) {
	if !m.api.Authenticated() {
		return
	}
	m.mu.Lock()
	if m.pollStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.pollStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
				m.FetchConversations(ctx)
				cancel()
			}
		}
	}()
}

// Close tears the session down: cancels any stream, stops polling, and drops
// the push subscription.
func (m *Manager) Close() {
	m.CancelStream()

	m.mu.Lock()
	stop := m.pollStop
	m.pollStop = nil
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if unsub != nil {
		unsub()
	}
}

// dropLocalLocked removes an optimistic message that never made it to the
// durable store. Caller holds the lock.
func (m *Manager) dropLocalLocked(id string) {
	delete(m.pendingLocal, id)
	kept := make([]model.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if msg.ID == id {
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
}

func (m *Manager) reportDiagnostic(msg string) {
	m.mu.Lock()
	m.diagnostic = msg
	hook := m.OnDiagnostic
	m.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
}
