// Package static embeds the site stylesheet and generates the syntax
// highlighting stylesheet from chroma.
package static

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
)

// ChromaStyle matches the style the renderer highlights code with.
const ChromaStyle = "github-dark"

// ChromaFile is the name of the generated highlighting stylesheet under css/.
const ChromaFile = "chroma.css"

//go:embed css/*.css
var assets embed.FS

// FS exposes the embedded static assets.
func FS() fs.FS {
	return assets
}

// WriteChromaCSS writes the class-based stylesheet for a chroma style.
func WriteChromaCSS(w io.Writer, style string) error {
	s, ok := styles.Registry[style]
	if !ok {
		return fmt.Errorf("chroma style %q not found", style)
	}
	formatter := html.New(
		html.WithClasses(true),
		html.ClassPrefix(""),
	)
	return formatter.WriteCSS(w, s)
}

// CopyAll writes all embedded assets plus the generated chroma stylesheet into
// dest, preserving the relative layout.
func CopyAll(dest string) error {
	err := fs.WalkDir(assets, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(assets, path)
		if err != nil {
			return err
		}
		return writeFile(filepath.Join(dest, filepath.FromSlash(path)), data)
	})
	if err != nil {
		return err
	}

	var css bytes.Buffer
	if err := WriteChromaCSS(&css, ChromaStyle); err != nil {
		return err
	}
	return writeFile(filepath.Join(dest, "css", ChromaFile), css.Bytes())
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return err
	}
	return os.WriteFile(path, data, 0o644) //nolint:gosec // standard file permissions
}
