// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/synth/internal/search"
	"github.com/jeranaias/synth/internal/util"
)

func newSearchCommand(app *App) *cobra.Command {
	var showContext bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run the web search waterfall without generating an answer",
		Example: `  synth search "latest Go release"
  synth search --context "FIPS 203"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := app.components(ctx)
			if err != nil {
				return NewCommandError("search", "setup", err)
			}
			defer c.Close()
			if err := c.Guard.CheckSearch(); err != nil {
				return err
			}

			resp := c.Waterfall.Search(ctx, strings.Join(args, " "))
			if app.JSON {
				return NewJSONResponse("search", resp).Print(cmd.OutOrStdout())
			}
			printSearch(cmd.OutOrStdout(), resp, showContext, app.Quiet)
			return ctxErr(ctx)
		},
	}
	cmd.Flags().BoolVar(&showContext, "context", false, "print the prompt context instead of a result list")
	return cmd
}

func printSearch(w io.Writer, resp *search.Response, showContext, quiet bool) {
	if showContext {
		fmt.Fprintln(w, resp.Context)
		return
	}
	if resp.Empty() {
		fmt.Fprintln(w, RenderConditional(WarningStyle, "No results."))
	}
	if resp.DirectAnswer != "" {
		fmt.Fprintln(w, RenderConditional(SectionStyle, "Answer"))
		fmt.Fprintln(w, WrapText(resp.DirectAnswer, 0))
		fmt.Fprintln(w)
	}

	width := GetTerminalWidth() - 6
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%2d. %s\n", i+1, RenderConditional(ValueStyle, util.TruncateWidth(r.Title, width)))
		fmt.Fprintf(w, "    %s\n", RenderConditional(DimStyle, util.TruncateWidth(r.URL, width)))
		if r.Snippet != "" {
			fmt.Fprintf(w, "    %s\n", util.TruncateWidth(r.Snippet, width))
		}
	}
	if quiet {
		return
	}

	fmt.Fprintln(w)
	for _, o := range resp.Outcomes {
		status := "ok"
		detail := fmt.Sprintf("%d results", len(o.Results))
		switch o.Kind {
		case search.OutcomeEmpty:
			status, detail = "warn", "empty"
		case search.OutcomeFailed:
			status = "fail"
			detail = "failed"
			if o.Err != nil {
				detail = o.Err.Error()
			}
		}
		fmt.Fprintf(w, "%s %s %s %s\n", RenderStatus(status), util.PadWidth(o.Provider, 12),
			RenderConditional(DimStyle, formatDurationShort(o.Elapsed)), detail)
	}
}
