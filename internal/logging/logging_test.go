package logging_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/euforicio/mermaidmd/internal/logging"
)

func TestNewFiltersDebugUnlessVerbose(t *testing.T) {
	t.Parallel()

	var quiet bytes.Buffer
	logger := logging.New(&quiet, "mermaidmd", false)
	logger.Debug("hidden detail")
	logger.Info("page written", slog.String("path", "index.html"))

	out := quiet.String()
	if strings.Contains(out, "hidden detail") {
		t.Fatalf("debug line written without verbose: %s", out)
	}
	if !strings.Contains(out, "page written") || !strings.Contains(out, "index.html") {
		t.Fatalf("expected info line with attrs, got %s", out)
	}

	var loud bytes.Buffer
	logging.New(&loud, "mermaidmd", true).Debug("hidden detail")
	if !strings.Contains(loud.String(), "hidden detail") {
		t.Fatalf("expected debug line when verbose, got %s", loud.String())
	}
}
