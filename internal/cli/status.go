// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/synth/internal/cloud"
	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/engine"
	"github.com/jeranaias/synth/internal/generate"
	"github.com/jeranaias/synth/internal/ollama"
	"github.com/jeranaias/synth/internal/router"
)

// statusTimeout bounds the health probes.
const statusTimeout = 5 * time.Second

func newStatusCommand(app *App) *cobra.Command {
	var start bool
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s", "info"},
		Short:   "Show model, search and knowledge base status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout := statusTimeout
			if start {
				timeout += ollama.StartupTimeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c, err := app.components(ctx)
			if err != nil {
				return NewCommandError("status", "setup", err)
			}
			defer c.Close()
			if start {
				c.Generator.StartLocal(ctx)
			}

			data := collectStatus(ctx, c, app.ConfigPath)
			if app.JSON {
				return NewJSONResponse("status", data).Print(cmd.OutOrStdout())
			}
			printStatus(cmd.OutOrStdout(), data)
			return nil
		},
	}
	cmd.Flags().BoolVar(&start, "start-ollama", false, "start a local Ollama server for tiers that do not answer")
	return cmd
}

func collectStatus(ctx context.Context, c *engine.Components, configPath string) StatusData {
	cfg := c.Config
	if configPath == "" {
		if p, err := config.ConfigPathTOML(); err == nil {
			configPath = p
		}
	}
	data := StatusData{
		ConfigPath: configPath,
		Offline:    c.Guard.Enabled(),
		Tiers:      []TierStatus{},
		Cloud:      []CloudStatus{},
		Search:     c.Waterfall.Stages(),
		Problems:   map[string]string{},
	}

	probes := c.Generator.Probe(ctx)
	for _, t := range router.Tiers {
		spec, ok := c.Generator.Spec(t)
		if !ok {
			continue
		}
		p := probes[t]
		ts := TierStatus{Tier: t.String(), URL: spec.URL, Model: spec.Model, Healthy: p.Err == nil, Pulled: p.ModelPresent, Size: p.Size}
		if p.Err != nil {
			ts.Error = p.Err.Error()
		}
		data.Tiers = append(data.Tiers, ts)
	}

	limits := c.Generator.Registry()
	for _, cand := range generate.Candidates(cfg) {
		key := cfg.Cloud.GeminiKey
		if cloud.IsOpenRouterModel(cand.ID) {
			key = cfg.Cloud.OpenRouterKey
		}
		cs := CloudStatus{
			Model:      cand.ID,
			RPM:        cand.RPM,
			Configured: key != "" && c.Guard.AllowCloud(),
		}
		cs.Available = cs.Configured && limits.CooldownRemaining(cand.ID) == 0
		if key != "" {
			cs.KeyID = cloud.KeyFingerprint(key)
		}
		data.Cloud = append(data.Cloud, cs)
	}

	if c.Index != nil {
		if st, err := c.Index.Stats(ctx); err != nil {
			data.Problems["knowledge"] = err.Error()
		} else {
			data.Knowledge = &KnowledgeStatus{
				Path:       st.Path,
				Collection: st.Collection,
				Model:      st.Model,
				Records:    st.Count,
				Dimensions: st.Dimensions,
			}
		}
	} else if cfg.RAG.Enabled {
		data.Problems["knowledge"] = errKnowledgeDisabled.Error()
	}

	if c.Tracker != nil {
		totals := c.Tracker.Totals()
		u := &UsageStatus{Requests: totals.Requests, Identities: map[string]int{}}
		for id, counter := range totals.Identities {
			u.Identities[id] = counter.Calls
		}
		data.Usage = u
	}
	return data
}

func printStatus(w io.Writer, d StatusData) {
	fmt.Fprintln(w, RenderConditional(TitleStyle, "Synth Status"))
	fmt.Fprintln(w, RenderSeparator(41))
	if d.Offline {
		fmt.Fprintln(w, RenderConditional(OfflineBadgeStyle, "[OFFLINE] cloud models and web search are disabled"))
	}
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Config"), RenderConditional(DimStyle, d.ConfigPath))

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(SectionStyle, "Local models"))
	for _, t := range d.Tiers {
		status, detail := "ok", t.Model
		if t.Size != "" {
			detail += " (" + t.Size + ")"
		}
		switch {
		case !t.Healthy:
			status, detail = "fail", t.Model+" ("+t.Error+")"
		case !t.Pulled:
			status, detail = "warn", t.Model+" (not pulled, run: ollama pull "+t.Model+")"
		}
		fmt.Fprintf(w, "%s%s %s %s\n", RenderLabel(t.Tier), RenderStatus(status), detail, RenderConditional(DimStyle, t.URL))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(SectionStyle, "Cloud fallback"))
	if len(d.Cloud) == 0 {
		fmt.Fprintln(w, RenderConditional(DimStyle, "  none configured"))
	}
	for _, m := range d.Cloud {
		status := "ok"
		switch {
		case !m.Configured:
			status = "off"
		case !m.Available:
			status = "warn"
		}
		detail := fmt.Sprintf("%d rpm", m.RPM)
		if m.KeyID != "" {
			detail += ", key " + m.KeyID
		}
		fmt.Fprintf(w, "%s %s %s\n", RenderStatus(status), m.Model, RenderConditional(DimStyle, detail))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(SectionStyle, "Web search"))
	if len(d.Search) == 0 {
		fmt.Fprintln(w, RenderConditional(DimStyle, "  disabled"))
	} else {
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Order"), strings.Join(d.Search, " → "))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(SectionStyle, "Knowledge base"))
	if k := d.Knowledge; k != nil {
		fmt.Fprintf(w, "%s%d chunks\n", RenderLabel("Records"), k.Records)
		fmt.Fprintf(w, "%s%s (%d dims)\n", RenderLabel("Embeddings"), k.Model, k.Dimensions)
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Path"), RenderConditional(DimStyle, k.Path))
	} else if msg, ok := d.Problems["knowledge"]; ok {
		fmt.Fprintf(w, "%s %s\n", RenderStatus("warn"), msg)
	} else {
		fmt.Fprintln(w, RenderConditional(DimStyle, "  disabled"))
	}

	if u := d.Usage; u != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, RenderConditional(SectionStyle, "Usage"))
		fmt.Fprintf(w, "%s%d\n", RenderLabel("Requests"), u.Requests)
		ids := make([]string, 0, len(u.Identities))
		for id := range u.Identities {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "%s%d\n", RenderLabel(id), u.Identities[id])
		}
	}
}
