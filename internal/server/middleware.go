package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzip"
)

// newCompressor compresses text responses (pages, stylesheets, JSON, SVG)
// with klauspost gzip. Event streams are not in chi's compressible list and
// pass through untouched.
func newCompressor() *chimw.Compressor {
	c := chimw.NewCompressor(gzip.DefaultCompression)
	c.SetEncoder("gzip", func(w io.Writer, level int) io.Writer {
		gz, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil
		}
		return gz
	})
	return c
}

// slogFormatter adapts chi's request logging to slog. Requests are logged at
// info level when verbose; server errors and panics are always logged.
type slogFormatter struct {
	logger  *slog.Logger
	verbose bool
}

func (f slogFormatter) NewLogEntry(r *http.Request) chimw.LogEntry {
	return &slogEntry{
		logger:  f.logger,
		verbose: f.verbose,
		req:     r,
	}
}

type slogEntry struct {
	logger  *slog.Logger
	verbose bool
	req     *http.Request
}

func (e *slogEntry) attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("request_id", chimw.GetReqID(e.req.Context())),
		slog.String("method", e.req.Method),
		slog.String("uri", e.req.RequestURI),
		slog.String("remote_ip", e.req.RemoteAddr),
	}
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	level := slog.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelWarn
	case !e.verbose:
		return
	}
	attrs := append(e.attrs(),
		slog.Int("status", status),
		slog.Int("bytes_out", bytes),
		slog.Duration("latency", elapsed),
	)
	e.logger.LogAttrs(e.req.Context(), level, "http request", attrs...)
}

func (e *slogEntry) Panic(v any, stack []byte) {
	attrs := append(e.attrs(),
		slog.Any("err", v),
		slog.String("stack", string(stack)),
	)
	e.logger.LogAttrs(e.req.Context(), slog.LevelError, "panic recovered", attrs...)
}
