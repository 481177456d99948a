// Package server serves a built site for local preview.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/euforicio/mermaidmd/internal/exporter"
)

// Options configure the preview server.
type Options struct {
	// Root is the markdown source directory, used for single-page exports.
	Root string
	// Dir is the built site served at /.
	Dir string
	// Addr is the listen address; an empty port picks a free one.
	Addr    string
	Verbose bool
	Open    bool
}

// Event is pushed to /events subscribers after a rebuild.
type Event struct {
	Type  string   `json:"type"`
	Paths []string `json:"paths,omitempty"`
}

// Server previews an exported site and pushes reload events after rebuilds.
type Server struct { //nolint:govet // field order favors logical grouping over padding optimizations
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	exporter   *exporter.Exporter
	opts       Options

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// New constructs a preview server for the site in opts.Dir.
func New(logger *slog.Logger, exp *exporter.Exporter, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = "127.0.0.1:0"
	}

	s := &Server{
		logger:      logger.With("component", "http"),
		exporter:    exp,
		opts:        opts,
		subscribers: make(map[chan Event]struct{}),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RequestLogger(slogFormatter{logger: s.logger, verbose: s.opts.Verbose}))
	r.Use(chimw.Recoverer)
	r.Use(newCompressor().Handler)

	r.Get("/healthz", s.handleHealth)
	r.Get("/events", s.handleEvents)
	r.Get("/api/export", s.handleExport)
	r.Handle("/*", noCache(http.FileServer(http.Dir(s.opts.Dir))))
	return r
}

// ServeHTTP implements http.Handler with the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on the configured address and blocks until ctx is canceled
// or the server fails. The chosen URL is written to out.
func (s *Server) Start(ctx context.Context, out io.Writer) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return fmt.Errorf("unexpected listener address type")
	}
	serverURL := fmt.Sprintf("http://localhost:%d", tcpAddr.Port)

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if out != nil {
			if _, err := fmt.Fprintf(out, "preview listening on %s\n", serverURL); err != nil {
				s.logger.Warn("failed to announce server address", slog.String("url", serverURL), slog.Any("err", err))
			}
		}
		errCh <- s.httpServer.Serve(listener)
	}()

	if s.opts.Open {
		go s.openBrowserWhenReady(ctx, serverURL)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.ErrorContext(ctx, "graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server and closes event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Notify sends evt to every connected /events client. Slow clients miss
// events rather than block the build.
func (s *Server) Notify(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (s *Server) subscribe() chan Event {
	ch := make(chan Event, 4)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	if _, err := w.Write([]byte(": ready\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := encodeJSON(evt)
			if err != nil {
				s.logger.WarnContext(ctx, "encode sse event failed", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse("path parameter is required"))
		return
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		s.logger.WarnContext(ctx, "invalid export path attempted", slog.String("path", path))
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid path"))
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = string(exporter.FormatHTML)
	}
	if !exporter.IsValidFormat(format) {
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid format. Supported formats: html, pdf, markdown, txt"))
		return
	}

	info, err := os.Stat(filepath.Join(s.opts.Root, filepath.FromSlash(cleanPath)))
	if err != nil || info.IsDir() {
		s.logger.WarnContext(ctx, "export document not found", slog.String("path", cleanPath))
		respondJSON(w, http.StatusNotFound, errorResponse("document not found"))
		return
	}

	filename := sanitizeFilename(cleanPath) + exporter.FileExtension(exporter.Format(format))
	w.Header().Set("Content-Type", exporter.ContentType(exporter.Format(format)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	opts := exporter.ExportPageOptions{
		RootDir: s.opts.Root,
		Path:    filepath.ToSlash(cleanPath),
		Format:  exporter.Format(format),
		Writer:  w,
	}
	if err := s.exporter.ExportPage(ctx, opts); err != nil {
		// Headers are already sent; the response is left incomplete.
		s.logger.ErrorContext(ctx, "export failed", slog.Any("err", err), slog.String("path", cleanPath), slog.String("format", format))
	}
}

func sanitizeFilename(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.Map(func(r rune) rune {
		if r == ' ' {
			return '-'
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." {
		name = "export"
	}
	return name
}

func errorResponse(message string) map[string]string {
	return map[string]string{"error": message}
}

func (s *Server) openBrowserWhenReady(ctx context.Context, url string) {
	timer := time.NewTimer(300 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		if err := openBrowser(ctx, url); err != nil {
			s.logger.WarnContext(ctx, "auto-open failed", slog.String("url", url), slog.Any("err", err))
		}
	}
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	return cmd.Start()
}
