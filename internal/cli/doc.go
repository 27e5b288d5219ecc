// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the synth command line.
//
// The command tree is built with cobra. Every command shares an App that
// holds the global flags, the loaded configuration and the logger; the
// engine is wired lazily by the commands that need it.
//
// # Commands
//
//	ask <question>       answer one question
//	chat                 interactive session with history
//	search <query>       run the web search waterfall only
//	ingest [path...]     add files or text to the knowledge base
//	serve                local HTTP API for the desktop UI
//	status               model, search and knowledge base health
//	config show|path|init|validate
//	version
//
// # Global flags
//
//	--config PATH   configuration file (default ~/.synth/config.toml)
//	--json          machine readable output
//	--offline       block cloud models and web search
//	-v, --verbose   debug logging
//	-q, --quiet     minimal output
//
// Errors map to process exit codes through GetExitCode.
package cli
