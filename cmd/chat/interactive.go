package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskpilot-ai/conversational-client/internal/attach"
	"github.com/taskpilot-ai/conversational-client/internal/model"
	"github.com/taskpilot-ai/conversational-client/internal/session"
)

func runInteractive(cmd *cobra.Command) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	m := a.manager
	var printed int

	m.OnFragment = func(display string) {
		if len(display) < printed {
			return
		}
		fmt.Print(display[printed:])
		printed = len(display)
	}
	m.OnSuggestion = func(s *model.ProjectSuggestion, items []model.BreakdownItem) {
		if s != nil {
			fmt.Printf("\n[suggestion] promote to project: %s\n", s.Name)
		}
		if len(items) > 0 {
			fmt.Println("\n[breakdown]")
			for _, it := range items {
				fmt.Printf("  - %s\n", it.Item)
			}
		}
	}
	m.OnDiagnostic = func(msg string) {
		fmt.Fprintf(os.Stderr, "! %s\n", msg)
	}

	m.FetchConversations(ctx)
	m.StartConversationPolling(a.cfg.PollInterval)

	if state := m.Snapshot(); state.Authenticated {
		fmt.Printf("signed in, %d conversations (use /list, /open <id>)\n", len(state.Conversations))
	} else {
		fmt.Println("guest session: history lives in memory only")
	}

	var pending []attach.File
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			if quit := a.command(ctx, line, &pending); quit {
				return nil
			}
		default:
			a.sendTurn(ctx, line, &pending, &printed)
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func (a *app) sendTurn(ctx context.Context, text string, pending *[]attach.File, printed *int) {
	m := a.manager

	var attachments []model.Attachment
	if len(*pending) > 0 {
		atts, inline, err := m.ProcessAttachments(ctx, *pending)
		if err != nil {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
			return
		}
		attachments = atts
		text += inline
		*pending = nil
	}

	// Ctrl-C cancels this turn only; the prompt loop survives.
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	*printed = 0
	if err := m.Send(turnCtx, text, attachments); errors.Is(err, session.ErrTurnInFlight) {
		fmt.Fprintln(os.Stderr, "! a turn is already running")
		return
	}
	fmt.Println()

	// Keep the push channel pointed at whichever conversation the turn
	// landed in (a new chat learns its id from the response).
	if state := m.Snapshot(); state.Authenticated && state.ActiveID != "" {
		if _, err := m.SubscribeToMessages(state.ActiveID); err != nil {
			a.log.Warn("push subscription failed", zap.Error(err))
		}
	}
}

func (a *app) command(ctx context.Context, line string, pending *[]attach.File) (quit bool) {
	m := a.manager
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/new":
		m.StartNew()
		fmt.Println("started a new conversation")

	case "/open":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "! usage: /open <conversation-id>")
			return false
		}
		id := fields[1]
		if err := m.Open(ctx, id); err != nil {
			return false
		}
		for _, msg := range m.Snapshot().Messages {
			fmt.Printf("%s: %s\n", msg.Role, msg.Content)
		}
		if _, err := m.SubscribeToMessages(id); err != nil {
			a.log.Warn("push subscription failed", zap.Error(err))
		}

	case "/cancel":
		m.CancelStream()

	case "/attach":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "! usage: /attach <path>")
			return false
		}
		f, err := loadFile(fields[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
			return false
		}
		*pending = append(*pending, f)
		fmt.Printf("attached %s (%d bytes), sent with your next message\n", f.Name, len(f.Data))

	case "/list":
		m.FetchConversations(ctx)
		for _, c := range m.Snapshot().Conversations {
			fmt.Printf("%s  %s\n", c.ID, c.Title)
		}

	default:
		fmt.Fprintf(os.Stderr, "! unknown command %s\n", fields[0])
	}
	return false
}

func loadFile(path string) (attach.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return attach.File{}, err
	}
	return attach.File{
		Name: filepath.Base(path),
		MIME: mime.TypeByExtension(filepath.Ext(path)),
		Data: data,
	}, nil
}
