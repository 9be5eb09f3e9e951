package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"physio/physio/config"
	"physio/physio/services/session"
	"physio/physio/utils/color"
	"physio/physio/utils/logging"

	"github.com/spf13/cobra"
)

var conversationID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "start an interactive chat",
	Long: `Start an interactive chat with PhysioBot.

Commands inside the chat:
  /retry          resend the failed message
  /dismiss        clear the last error
  /new            start a new conversation
  /switch ID      continue another conversation
  /list           list your conversations
  /prompt TEXT    replace the system prompt (empty restores the default)
  /exit           quit

Ctrl-C cancels a reply in progress.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return err
	}
	api := newClient()
	me, err := api.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve patient: %w", err)
	}

	view := &transcriptView{out: os.Stdout}
	sess, err := session.NewController(session.Options{
		PatientID:        me.PatientID,
		Store:            api,
		Gateway:          api,
		TitlePlaceholder: prompts.Title,
		SystemPrompt:     prompts.DefaultSystemPrompt,
		IdleTimeout:      cfg.StreamIdleTimeout,
		HistoryLimit:     cfg.HistoryLimit,
		ErrorCopy:        prompts.Errors,
		OnChange:         view.render,
		Logger:           logging.AppLogger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Println(color.Info(strings.TrimSpace(prompts.Greeting)))
	if conversationID != "" {
		if err := sess.SelectConversation(ctx, conversationID); err != nil {
			return err
		}
		printTranscript(sess.Snapshot().Messages)
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			switch sess.Snapshot().Phase {
			case session.PhaseResolving, session.PhaseSending, session.PhaseStreaming:
				sess.Cancel()
				fmt.Println(color.Warning("\n(cancelled)"))
			default:
				fmt.Println()
				logging.Sync()
				os.Exit(0)
			}
		}
	}()

	r := &repl{ctx: ctx, sess: sess, view: view}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(color.Prompt("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if done := r.handle(line); done {
			return nil
		}
	}
}

type repl struct {
	ctx  context.Context
	sess *session.Controller
	view *transcriptView
}

// handle runs one input line and reports whether the chat should end.
func (r *repl) handle(line string) bool {
	if !strings.HasPrefix(line, "/") {
		r.report(r.sess.Submit(r.ctx, line))
		return false
	}
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/exit", "/quit":
		return true
	case "/retry":
		r.report(r.sess.Retry(r.ctx))
	case "/dismiss":
		r.sess.Dismiss()
	case "/new":
		if err := r.sess.NewConversation(r.ctx); err != nil {
			r.report(err)
			return false
		}
		fmt.Println(color.Info("new conversation"))
	case "/switch":
		if arg == "" {
			fmt.Println(color.Warning("usage: /switch ID"))
			return false
		}
		if err := r.sess.SelectConversation(r.ctx, arg); err != nil {
			r.report(err)
			return false
		}
		printTranscript(r.sess.Snapshot().Messages)
	case "/list":
		list, err := r.sess.ListConversations(r.ctx)
		if err != nil {
			r.report(err)
			return false
		}
		printConversations(list)
	case "/prompt":
		r.sess.SetCustomPrompt(arg)
		if arg == "" {
			fmt.Println(color.Info("default system prompt restored"))
		} else {
			fmt.Println(color.Info("system prompt updated"))
		}
	default:
		fmt.Println(color.Warning("unknown command " + name))
	}
	return false
}

// report prints errors the transcript view does not already show.
func (r *repl) report(err error) {
	var se *session.SessionError
	switch {
	case err == nil, errors.Is(err, session.ErrCancelled), errors.As(err, &se):
		return
	}
	fmt.Println(color.Error(r.sess.UserMessage(err)))
}

// transcriptView prints the streaming reply and surfaced errors from state
// snapshots.
type transcriptView struct {
	out io.Writer

	mu        sync.Mutex
	pendingID string
	printed   string
	lastError string
}

func (v *transcriptView) render(s session.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.PendingAssistantID != "" {
		if s.PendingAssistantID != v.pendingID {
			v.pendingID, v.printed = s.PendingAssistantID, ""
			fmt.Fprint(v.out, color.Role("assistant", "PhysioBot: "))
		}
		for _, m := range s.Messages {
			if m.ID != v.pendingID {
				continue
			}
			// the final normalized text may differ from the raw stream already shown
			if strings.HasPrefix(m.Content, v.printed) {
				fmt.Fprint(v.out, m.Content[len(v.printed):])
				v.printed = m.Content
			}
		}
	} else if v.pendingID != "" {
		v.pendingID, v.printed = "", ""
		fmt.Fprintln(v.out)
	}

	if s.Phase == session.PhaseErrored && s.LastError != "" && s.LastError != v.lastError {
		hint := " (/dismiss)"
		if s.CanRetry {
			hint = " (/retry or /dismiss)"
		}
		fmt.Fprintln(v.out, color.Error(s.LastError)+color.Muted(hint))
	}
	v.lastError = s.LastError
}
