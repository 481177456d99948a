// Package main prints the chroma stylesheet the site build ships, for use
// when theming a site outside of mermaidmd.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/euforicio/mermaidmd/static"
)

func main() {
	style := pflag.String("style", static.ChromaStyle, "chroma style name")
	pflag.Parse()

	if err := static.WriteChromaCSS(os.Stdout, *style); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating CSS: %v\n", err)
		os.Exit(1)
	}
}
