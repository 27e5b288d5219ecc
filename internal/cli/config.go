// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/synth/internal/config"
)

// ConfigData is the JSON form of config subcommands.
type ConfigData struct {
	Path  string `json:"path,omitempty"`
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`
	Valid *bool  `json:"valid,omitempty"`
}

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the configuration file",
		Example: `  synth config show
  synth config show search.max_results
  synth config init
  synth config validate`,
	}
	cmd.AddCommand(
		newConfigShowCommand(app),
		newConfigPathCommand(app),
		newConfigInitCommand(app),
		newConfigValidateCommand(app),
	)
	return cmd
}

// configPath returns --config or the default TOML location.
func (a *App) configPath() (string, error) {
	if a.ConfigPath != "" {
		return a.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

func newConfigShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [key]",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				if app.JSON {
					var v any
					if err := json.Unmarshal([]byte(cfg.String()), &v); err != nil {
						return err
					}
					return NewJSONResponse("config show", ConfigData{Value: v}).Print(out)
				}
				fmt.Fprintln(out, cfg.String())
				return nil
			}

			key := args[0]
			v, err := cfg.Get(key)
			if err != nil {
				return &ValidationError{Field: "key", Value: key, Reason: err.Error(), Example: "synth config show local.fast.model"}
			}
			v = redactValue(key, v)
			if app.JSON {
				return NewJSONResponse("config show", ConfigData{Key: key, Value: v}).Print(out)
			}
			return printValue(out, v)
		},
	}
}

// redactValue hides non-empty string values of *_key settings.
func redactValue(key string, v any) any {
	if s, ok := v.(string); ok && s != "" && strings.HasSuffix(strings.ToLower(key), "key") {
		return "[REDACTED]"
	}
	return v
}

func printValue(w io.Writer, v any) error {
	if s, ok := v.(fmt.Stringer); ok {
		_, err := fmt.Fprintln(w, s.String())
		return err
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Struct, reflect.Slice, reflect.Map:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, v)
	return err
}

func newConfigPathCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the configuration file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configPath()
			if err != nil {
				return err
			}
			if app.JSON {
				return NewJSONResponse("config path", ConfigData{Path: path}).Print(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigInitCommand(app *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a configuration file with the defaults",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &ValidationError{Field: "config", Value: path, Reason: "file already exists", Example: "synth config init --force"}
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return NewCommandError("config", "stat", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return NewCommandError("config", "create directory", err)
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return NewCommandError("config", "write", err)
			}
			if app.JSON {
				return NewJSONResponse("config init", ConfigData{Path: path}).Print(cmd.OutOrStdout())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", RenderStatus("ok"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigValidateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Check the configuration file and environment",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configPath()
			if err != nil {
				return err
			}
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			if app.ConfigPath != "" {
				_, err = config.LoadFromPath(app.ConfigPath)
			} else {
				_, err = config.Load()
			}
			if err != nil {
				return err
			}
			if app.JSON {
				valid := true
				return NewJSONResponse("config validate", ConfigData{Path: path, Valid: &valid}).Print(cmd.OutOrStdout())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid\n", RenderStatus("ok"), path)
			return nil
		},
	}
}
