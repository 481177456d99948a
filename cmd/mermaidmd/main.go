// Package main provides the mermaidmd static site build CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/mermaidmd/internal/buildinfo"
	"github.com/euforicio/mermaidmd/internal/config"
	"github.com/euforicio/mermaidmd/internal/content"
	"github.com/euforicio/mermaidmd/internal/exporter"
	"github.com/euforicio/mermaidmd/internal/logging"
	"github.com/euforicio/mermaidmd/internal/renderer"
	"github.com/euforicio/mermaidmd/internal/server"
)

func main() {
	scratch := config.Default()
	flags := pflag.NewFlagSet("mermaidmd", pflag.ExitOnError)
	config.RegisterFlags(flags, &scratch)
	configPath := flags.StringP("config", "c", config.DefaultFile, "path to the YAML config file")
	assetsDir := flags.String("assets", "", "directory whose files are copied over the bundled assets")
	watch := flags.BoolP("watch", "w", false, "rebuild when markdown files change")
	serve := flags.Bool("serve", false, "serve the built site and reload pages after rebuilds (implies --watch)")
	addr := flags.String("addr", "127.0.0.1:0", "listen address for --serve")
	open := flags.Bool("open", false, "open the preview in a browser")
	versionFlag := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(buildinfo.Summary())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		slog.Error("load configuration", slog.Any("err", err))
		os.Exit(1)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, "mermaidmd", cfg.Verbose)
	slog.SetDefault(logger)
	logger.Debug("starting mermaidmd", slog.String("version", buildinfo.Summary()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exp, err := exporter.New(logger, renderer.Options{Mermaid: cfg.Mermaid, Sanitize: cfg.Sanitize})
	if err != nil {
		cancel()
		logger.Error("init exporter failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}

	opts := exporter.Options{
		Root:                cfg.RootDir,
		OutputDir:           cfg.OutputDir,
		AssetsDir:           *assetsDir,
		SiteTitle:           cfg.Title,
		AssetPrefix:         cfg.AssetPrefix,
		BaseURL:             cfg.BaseURL,
		Exclude:             cfg.Exclude,
		IncludeHidden:       cfg.IncludeHidden,
		GenerateSearchIndex: cfg.SearchIndex,
		CleanOutput:         cfg.Clean,
		Strict:              cfg.Strict,
		LiveReload:          *serve,
	}

	if _, err := exp.Export(ctx, opts); err != nil {
		logger.Error("build failed", slog.Any("err", err))
		if !*watch && !*serve {
			cancel()
			os.Exit(1)
		}
	}
	if !*watch && !*serve {
		return
	}

	var srv *server.Server
	if *serve {
		srv = server.New(logger, exp, server.Options{
			Root:    cfg.RootDir,
			Dir:     cfg.OutputDir,
			Addr:    *addr,
			Verbose: cfg.Verbose,
			Open:    *open,
		})
		go func() {
			if err := srv.Start(ctx, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("server error", slog.Any("err", err))
				cancel()
			}
		}()
	}

	rebuild := func(ctx context.Context, paths []string) {
		exp.Invalidate(paths...)
		if _, err := exp.Export(ctx, opts); err != nil {
			logger.Error("rebuild failed", slog.Any("err", err))
			return
		}
		if srv != nil {
			srv.Notify(server.Event{Type: "rebuild", Paths: paths})
		}
	}

	err = content.Watch(ctx, cfg.RootDir, content.WatchOptions{
		Logger: logger,
		Options: content.Options{
			Exclude:       cfg.Exclude,
			SkipDirs:      []string{cfg.OutputDir},
			IncludeHidden: cfg.IncludeHidden,
		},
	}, rebuild)
	if err != nil {
		cancel()
		logger.Error("watch failed", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
