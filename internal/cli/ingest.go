// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/rag"
)

// errKnowledgeDisabled is returned when a command needs the knowledge base.
var errKnowledgeDisabled = errors.New("knowledge base is unavailable (check rag.enabled and the embedding server)")

type ingestOptions struct {
	text   string
	source string
	watch  bool
	clear  bool
}

// IngestData is the JSON form of an ingest run.
type IngestData struct {
	Files   int      `json:"files"`
	Added   int      `json:"added"`
	Skipped []string `json:"skipped"`
}

func newIngestCommand(app *App) *cobra.Command {
	var opts ingestOptions
	cmd := &cobra.Command{
		Use:   "ingest [path...]",
		Short: "Add files or text to the local knowledge base",
		Long: `Ingest .txt and .md files into the local knowledge base.

Directories are walked recursively, skipping hidden directories and
dependency folders. Re-ingesting a file replaces its previous content.
With --watch, changes under the given directory are picked up until
interrupted.`,
		Example: `  synth ingest ~/notes
  synth ingest --watch ~/notes
  synth ingest --text "The wifi password is on the fridge" --source house`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.text == "" && !opts.clear {
				return &ValidationError{Field: "arguments", Reason: "give a path, --text or --clear", Example: "synth ingest ~/notes"}
			}
			if opts.watch && len(args) != 1 {
				return &ValidationError{Field: "arguments", Reason: "--watch takes exactly one directory"}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := app.components(ctx)
			if err != nil {
				return NewCommandError("ingest", "setup", err)
			}
			defer c.Close()
			if c.Index == nil {
				return errKnowledgeDisabled
			}
			out := cmd.OutOrStdout()

			if opts.clear {
				if err := c.Index.Clear(ctx); err != nil {
					return NewCommandError("ingest", "clear", err)
				}
				if !app.JSON {
					fmt.Fprintln(out, "Knowledge base cleared.")
				}
			}

			data := IngestData{Skipped: []string{}}
			if opts.text != "" {
				source := opts.source
				if source == "" {
					source = "cli"
				}
				n, err := c.Index.Add(ctx, opts.text, source, map[string]any{"kind": "note"})
				if err != nil {
					return NewCommandError("ingest", "add text", err)
				}
				data.Added += n
			}
			for _, path := range args {
				res, err := rag.IngestPath(ctx, c.Index, path)
				if err != nil {
					return NewCommandError("ingest", path, err)
				}
				data.Files += res.Files
				data.Added += res.Added
				data.Skipped = append(data.Skipped, res.Skipped...)
			}

			if app.JSON {
				if err := NewJSONResponse("ingest", data).Print(out); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "%s %d files, %d chunks added\n", RenderStatus("ok"), data.Files, data.Added)
				for _, s := range data.Skipped {
					fmt.Fprintf(out, "%s %s\n", RenderStatus("warn"), s)
				}
			}

			if !opts.watch {
				return nil
			}
			w, err := rag.NewWatcher(c.Index, args[0], 0, app.Logger().Named("watch"))
			if err != nil {
				return NewCommandError("ingest", "watch", err)
			}
			if err := w.Start(); err != nil {
				_ = w.Close()
				return NewCommandError("ingest", "watch", err)
			}
			if !app.JSON {
				fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)\n", args[0])
			}
			<-ctx.Done()
			if err := w.Close(); err != nil {
				app.Logger().Warn("watcher close failed", zap.Error(err))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.text, "text", "", "add this text instead of files")
	f.StringVar(&opts.source, "source", "", "source label for --text")
	f.BoolVarP(&opts.watch, "watch", "w", false, "keep watching the directory for changes")
	f.BoolVar(&opts.clear, "clear", false, "remove everything before ingesting")
	return cmd
}
