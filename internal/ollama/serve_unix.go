// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package ollama

import "syscall"

func executableNames() []string { return []string{"ollama"} }

func platformDirs() []string {
	return []string{
		"/usr/local/bin",
		"/usr/bin",
		"/opt/ollama",
		"/Applications/Ollama.app/Contents/Resources",
	}
}

// detachedProcAttr puts the server in its own process group so it outlives synth.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
