package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/euforicio/mermaidmd/internal/buildinfo"
	"github.com/euforicio/mermaidmd/internal/logging"
	"github.com/euforicio/mermaidmd/internal/mermaid"
)

type options struct {
	editorURL   string
	payloadOnly bool
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "mermaid-live",
		Short:         "Encode diagrams as Mermaid live editor links and decode them back",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	encode := &cobra.Command{
		Use:   "encode [file]",
		Short: "Print an editor link for a diagram (stdin when file is omitted or \"-\")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			logger(cmd, opts).Debug("encoding diagram", slog.Int("bytes", len(source)))
			return runEncode(cmd.OutOrStdout(), source, opts)
		},
	}
	encode.Flags().StringVar(&opts.editorURL, "editor-url", mermaid.DefaultEditorURL, "base URL of the mermaid live editor")
	encode.Flags().BoolVar(&opts.payloadOnly, "payload", false, "print only the pako payload instead of a full URL")

	decode := &cobra.Command{
		Use:   "decode <url|payload>",
		Short: "Print the diagram stored in an editor link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger(cmd, opts).Debug("decoding editor state", slog.Int("bytes", len(args[0])))
			return runDecode(cmd.OutOrStdout(), args[0])
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Summary())
		},
	}

	root.AddCommand(encode, decode, version)
	return root
}

func logger(cmd *cobra.Command, opts *options) *slog.Logger {
	return logging.New(cmd.ErrOrStderr(), "mermaid-live", opts.verbose)
}

func runEncode(w io.Writer, source string, opts *options) error {
	if opts.payloadOnly {
		payload, err := mermaid.EncodeEditorState(source)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, "pako:"+payload)
		return err
	}
	link, err := mermaid.EditorLink(opts.editorURL, source)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, link)
	return err
}

func runDecode(w io.Writer, encoded string) error {
	state, err := mermaid.DecodeEditorState(encoded)
	if err != nil {
		return err
	}
	code := state.Code
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	_, err = io.WriteString(w, code)
	return err
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		if stdin == nil {
			return "", errors.New("no input")
		}
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(raw), nil
}
