// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/engine"
	"github.com/jeranaias/synth/internal/generate"
	"github.com/jeranaias/synth/internal/router"
)

// =============================================================================
// INPUT
// =============================================================================

// LineReader reads one line of user input.
type LineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// ChatInput is a liner-backed LineReader with persistent history.
type ChatInput struct {
	line        *liner.State
	historyFile string
}

// NewChatInput creates an editor with history loaded from ~/.synth/history.
func NewChatInput() *ChatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatInput{line: line, historyFile: filepath.Join(dir, "history")}
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadLine prompts and records non-empty input in history.
func (c *ChatInput) ReadLine(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with 0600 permissions and restores the terminal.
func (c *ChatInput) Close() error {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	return c.line.Close()
}

// plainInput reads lines from a non-terminal stdin.
type plainInput struct {
	scanner *bufio.Scanner
}

func (p *plainInput) ReadLine(string) (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

func (p *plainInput) Close() error { return nil }

// =============================================================================
// SESSION
// =============================================================================

// Resolver answers one request.
type Resolver interface {
	Resolve(ctx context.Context, req engine.Request) engine.Answer
}

// workerResolver answers through the engine worker queue.
type workerResolver struct {
	w *engine.Worker
}

func (r workerResolver) Resolve(ctx context.Context, req engine.Request) engine.Answer {
	if ans, ok := <-r.w.Submit(ctx, req); ok {
		return ans
	}
	return engine.Answer{Text: "The request was cancelled.", Identity: generate.IdentityError}
}

// ChatSession is the state of an interactive chat.
type ChatSession struct {
	resolver Resolver
	input    LineReader
	out      io.Writer
	quiet    bool
	offline  bool

	tier       *router.Tier
	noSearch   bool
	noHumanize bool
	last       *engine.Answer
	asked      int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewChatSession creates a session.
func NewChatSession(r Resolver, input LineReader, out io.Writer, quiet, offline bool) *ChatSession {
	return &ChatSession{resolver: r, input: input, out: out, quiet: quiet, offline: offline}
}

// errQuit ends the chat loop.
var errQuit = errors.New("quit")

// Run reads and answers lines until EOF, /quit or ctx ends.
func (s *ChatSession) Run(ctx context.Context) error {
	if !s.quiet {
		s.printWelcome()
	}
	for ctx.Err() == nil {
		line, err := s.input.ReadLine(RenderConditional(PromptStyle, "synth> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if err := s.command(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(s.out, RenderConditional(WarningStyle, err.Error()))
			}
			continue
		}
		s.ask(ctx, line)
	}
	return nil
}

// Interrupt cancels the answer in progress, if any.
func (s *ChatSession) Interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *ChatSession) ask(ctx context.Context, query string) {
	askCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	ans := s.resolver.Resolve(askCtx, engine.Request{
		Query:      query,
		Tier:       s.tier,
		NoSearch:   s.noSearch,
		NoHumanize: s.noHumanize,
	})
	if askCtx.Err() != nil && ctx.Err() == nil {
		fmt.Fprintln(s.out, RenderConditional(WarningStyle, "(cancelled)"))
		return
	}
	s.last = &ans
	s.asked++
	printAnswer(s.out, ans, s.quiet)
	fmt.Fprintln(s.out)
}

func (s *ChatSession) command(line string) error {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "/quit", "/q", "/exit":
		return errQuit
	case "/help", "/h", "/?":
		s.printHelp()
	case "/tier":
		if len(args) == 0 || strings.EqualFold(args[0], "auto") {
			s.tier = nil
			fmt.Fprintln(s.out, "tier: automatic")
			return nil
		}
		t, err := router.ParseTier(args[0])
		if err != nil {
			return fmt.Errorf("unknown tier %q (fast, balanced, smart, auto)", args[0])
		}
		s.tier = &t
		fmt.Fprintf(s.out, "tier: %s\n", t)
	case "/search":
		on, err := parseToggle(args)
		if err != nil {
			return err
		}
		s.noSearch = !on
		fmt.Fprintf(s.out, "web search: %s\n", onOff(on))
	case "/raw":
		on, err := parseToggle(args)
		if err != nil {
			return err
		}
		s.noHumanize = on
		fmt.Fprintf(s.out, "friendly rewrite: %s\n", onOff(!on))
	case "/sources":
		if s.last == nil {
			fmt.Fprintln(s.out, "no answer yet")
			return nil
		}
		srcs := s.last.Sources()
		if len(srcs) == 0 {
			fmt.Fprintln(s.out, "no sources for the last answer")
		}
		for i, src := range srcs {
			fmt.Fprintf(s.out, "  [%d] %s\n", i+1, src)
		}
	case "/status":
		tier := "automatic"
		if s.tier != nil {
			tier = s.tier.String()
		}
		fmt.Fprintf(s.out, "questions: %d  tier: %s  search: %s  rewrite: %s  offline: %s\n",
			s.asked, tier, onOff(!s.noSearch), onOff(!s.noHumanize), onOff(s.offline))
	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}

func parseToggle(args []string) (bool, error) {
	if len(args) == 0 {
		return true, nil
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", args[0])
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (s *ChatSession) printWelcome() {
	fmt.Fprintln(s.out, RenderConditional(TitleStyle, "Synth chat"))
	if s.offline {
		fmt.Fprintln(s.out, RenderConditional(OfflineBadgeStyle, "[OFFLINE] cloud models and web search are disabled"))
	}
	fmt.Fprintln(s.out, RenderConditional(DimStyle, "Type a question, /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHelp() {
	fmt.Fprintln(s.out, `Commands:
  /tier [fast|balanced|smart|auto]  force or release a model tier
  /search [on|off]                  toggle web search
  /raw [on|off]                     toggle the friendly rewrite
  /sources                          list sources of the last answer
  /status                           show session settings
  /quit                             exit
  Ctrl+C                            cancel the current answer`)
}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			c, err := app.components(ctx)
			if err != nil {
				return NewCommandError("chat", "setup", err)
			}
			defer c.Close()

			var input LineReader
			if IsTTY() {
				input = NewChatInput()
			} else {
				input = &plainInput{scanner: bufio.NewScanner(cmd.InOrStdin())}
			}
			defer input.Close()

			worker := engine.NewWorker(c.Engine, 1, app.Logger().Named("worker"))
			defer worker.Close()

			session := NewChatSession(workerResolver{worker}, input, cmd.OutOrStdout(), app.Quiet, c.Guard.Enabled())

			// Ctrl+C during an answer cancels it; at the prompt liner reports it.
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt)
			defer signal.Stop(sigs)
			go func() {
				for {
					select {
					case <-sigs:
						session.Interrupt()
					case <-ctx.Done():
						return
					}
				}
			}()

			return session.Run(ctx)
		},
	}
}
