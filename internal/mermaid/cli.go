package mermaid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ImageRenderer turns diagram source into SVG or PNG bytes.
type ImageRenderer interface {
	Render(ctx context.Context, source string, format Format) ([]byte, error)
}

// CLI pre-renders diagrams by shelling out to the mermaid CLI (mmdc).
type CLI struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// NewCLI returns a CLI renderer, filling in defaults for empty values.
func NewCLI(path string, args []string, timeout time.Duration) CLI {
	if path == "" {
		path = DefaultCLIPath
	}
	if timeout <= 0 {
		timeout = DefaultCLITimeout
	}
	return CLI{Path: path, Args: append([]string(nil), args...), Timeout: timeout}
}

// Render runs mmdc in a scratch directory and returns the produced file.
func (c CLI) Render(ctx context.Context, source string, format Format) ([]byte, error) {
	if format != FormatSVG && format != FormatPNG {
		return nil, fmt.Errorf("mmdc cannot produce %q output", format)
	}
	bin, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCLIUnavailable, c.Path, err)
	}

	tmpDir, err := os.MkdirTemp("", "mermaid-cli-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "diagram.mmd")
	outPath := filepath.Join(tmpDir, "diagram."+string(format))

	if err := os.WriteFile(inPath, []byte(source), 0o644); err != nil { //nolint:gosec // scratch file
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	args := append([]string{"-i", inPath, "-o", outPath, "--quiet"}, c.Args...)
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // binary comes from trusted config
	// mmdc writes temp files next to input; keep cwd in tmpdir
	cmd.Dir = tmpDir

	if output, err := cmd.CombinedOutput(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("mmdc timed out after %s", c.Timeout)
		}
		return nil, fmt.Errorf("mmdc failed: %w; output: %s", err, string(output))
	}

	data, err := os.ReadFile(outPath) //nolint:gosec // path inside our scratch dir
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("mmdc produced empty %s", format)
	}
	return data, nil
}
