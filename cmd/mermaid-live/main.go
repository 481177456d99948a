// Package main provides a CLI for moving diagrams in and out of the Mermaid
// live editor.
package main

import (
	"log/slog"
	"os"

	"github.com/euforicio/mermaidmd/internal/logging"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		logging.New(os.Stderr, "mermaid-live", false).Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}
