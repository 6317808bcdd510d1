package log

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type contextKey struct{}

// ContextMiddleware stores a request scoped logger carrying the request ID,
// so handlers can log through FromContext.
func ContextMiddleware(logger *Logger, requestID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logger
			if id := requestID(r); id != "" {
				l = logger.With(FieldRequestID, id)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, l)))
		})
	}
}

// FromContext returns the request logger, or a default one outside requests.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// StructuredLogger writes the few events every request path shares.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{
		logger: logger,
	}
}

// quietPath reports paths polled by health checks and browsers. They log at debug.
func quietPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/favicon.ico":
		return true
	}
	return strings.HasPrefix(path, "/static/")
}

// LogRequest logs one finished request.
func (sl *StructuredLogger) LogRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	case quietPath(r.URL.Path):
		level = slog.LevelDebug
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent"), "").
		WithHTTPResponse(statusCode, duration.Milliseconds(), statusCode < 400).
		WithClientIP(clientIP).
		WithComponent(sl.logger.component)

	sl.logger.Logger.Log(ctx, level, "HTTP request", fields.ToSlice()...)
}

// LogDatasetLoaded logs a dataset that was uploaded or imported
func (sl *StructuredLogger) LogDatasetLoaded(ctx context.Context, op, id, name, source string, records, skipped int) {
	fields := NewFields().
		WithDataset(id, name, source, records, skipped).
		WithOperation(op).
		ToSlice()

	sl.logger.InfoContext(ctx, "Dataset loaded", fields...)
}

// LogExportQueued logs an accepted export job.
func (sl *StructuredLogger) LogExportQueued(ctx context.Context, jobID, datasetID string, files int) {
	sl.logger.InfoContext(ctx, "Export queued",
		FieldOperation, OpExport,
		FieldJobID, jobID,
		FieldDatasetID, datasetID,
		"files", files)
}

// LogError logs a failed operation.
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, operation string, fields LogFields) {
	sl.logger.ErrorContext(ctx, msg, fields.WithError(err).WithOperation(operation).ToSlice()...)
}
