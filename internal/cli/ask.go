// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/synth/internal/engine"
	"github.com/jeranaias/synth/internal/router"
)

type askOptions struct {
	context    string
	tier       string
	noSearch   bool
	noHumanize bool
}

func newAskCommand(app *App) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Example: `  synth ask "what is the capital of France"
  synth ask --tier smart "compare FIPS 203 and FIPS 204"
  pbpaste | synth ask --context - "summarize this"
  synth ask --context @notes.md "explain this"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, app, strings.Join(args, " "), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.context, "context", "c", "", `text the question is about ("-" for stdin, "@file")`)
	f.StringVarP(&opts.tier, "tier", "t", "", "force a model tier (fast, balanced, smart)")
	f.BoolVar(&opts.noSearch, "no-search", false, "skip web search")
	f.BoolVar(&opts.noHumanize, "raw", false, "skip the friendly rewrite")
	return cmd
}

func runAsk(cmd *cobra.Command, app *App, query string, opts askOptions) error {
	req := engine.Request{
		Query:      query,
		NoSearch:   opts.noSearch,
		NoHumanize: opts.noHumanize,
	}
	if opts.tier != "" {
		tier, err := router.ParseTier(opts.tier)
		if err != nil {
			return &ValidationError{Field: "tier", Value: opts.tier, Reason: "unknown tier", Example: "--tier smart"}
		}
		req.Tier = &tier
	}
	if opts.context != "" {
		text, err := readContextArg(opts.context, cmd.InOrStdin())
		if err != nil {
			return err
		}
		req.SurroundingText = text
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.components(ctx)
	if err != nil {
		return NewCommandError("ask", "setup", err)
	}
	defer c.Close()

	ans := c.Engine.Resolve(ctx, req)
	if app.JSON {
		return NewJSONResponse("ask", toAskData(ans)).Print(cmd.OutOrStdout())
	}
	printAnswer(cmd.OutOrStdout(), ans, app.Quiet)
	return ctxErr(ctx)
}

// ctxErr reports an interrupt as an error so the exit code reflects it.
func ctxErr(ctx context.Context) error {
	if ctx.Err() == context.Canceled {
		return context.Canceled
	}
	return nil
}
