package http

import (
	"context"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookinglens/internal/analytics"
	"bookinglens/internal/core"
	"bookinglens/internal/export"
	"bookinglens/internal/format"
	applog "bookinglens/internal/log"
	"bookinglens/internal/middleware/ratelimit"
	"bookinglens/internal/middleware/security"
	"bookinglens/internal/middleware/trace"
	appweb "bookinglens/web"
)

// Dashboard is what the handlers need from the service layer.
type Dashboard interface {
	Upload(ctx context.Context, name string, r io.Reader) (core.DatasetInfo, error)
	ImportSheet(ctx context.Context) (core.DatasetInfo, error)
	Dataset(ctx context.Context, id string) (core.Dataset, error)
	List(ctx context.Context) ([]core.DatasetInfo, error)
	Report(ctx context.Context, id string, q analytics.Query) (analytics.Report, error)
	ExportTable(ctx context.Context, id string, q analytics.Query, kind export.Kind) (export.Table, analytics.Report, error)
	RequestExport(ctx context.Context, id string, q analytics.Query, kinds []export.Kind, formats []export.Format) (string, error)
	Delete(ctx context.Context, id string) error
	SheetsEnabled() bool
	ExportsEnabled() bool
}

// Options configures NewServer. Dashboard is required.
type Options struct {
	Addr           string
	Dashboard      Dashboard
	Logger         *applog.Logger
	MaxUploadBytes int64
	TrustedProxies []string
	// ExportDir holds the files written by the export worker. Empty
	// disables the /exports routes.
	ExportDir string
	// Ready reports backend health for /readyz.
	Ready func(ctx context.Context) error
	// CacheSize reports the number of cached reports for /metrics.
	CacheSize func() int
}

type appMetrics struct {
	uploads int64
	reports int64
	exports int64
	uptime  time.Time
}

type Server struct {
	http.Server
	dash       Dashboard
	templates  *template.Template
	logger     *applog.Logger
	structured *applog.StructuredLogger
	detector   *security.Detector
	tracer     *trace.Middleware
	limiter    *ratelimit.Limiter
	maxUpload  int64
	exportDir  string
	ready      func(ctx context.Context) error
	cacheSize  func() int
	appMetrics appMetrics

	shutdownOnce sync.Once
}

// templateFuncs are available in every template.
var templateFuncs = template.FuncMap{
	"currency":   format.Currency,
	"percent":    format.Percentage,
	"number":     format.Number,
	"delta":      format.Delta,
	"pointDelta": format.PointDelta,
	"date": func(t time.Time) string {
		if t.IsZero() {
			return format.Missing
		}
		return t.Local().Format("02.01.2006 15:04")
	},
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	httpLogger := logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 16,
		},
		dash:       opts.Dashboard,
		logger:     httpLogger,
		structured: applog.NewStructuredLogger(httpLogger),
		detector:   security.NewDetector(logger.WithComponent(applog.ComponentSecurity).Slog()),
		limiter:    ratelimit.NewLimiter(ratelimit.UploadConfig()),
		maxUpload:  opts.MaxUploadBytes,
		exportDir:  opts.ExportDir,
		ready:      opts.Ready,
		cacheSize:  opts.CacheSize,
		appMetrics: appMetrics{uptime: time.Now()},
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 20 << 20
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			httpLogger.Warn("Ignoring trusted proxy", "cidr", cidr, "error", err)
		}
	}
	s.tracer = trace.NewMiddleware(logger.WithComponent(applog.ComponentTrace), s.detector.ClientIP)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.WithComponent(applog.ComponentTemplate).Warn("Failed parsing templates", "error", err)
	}
	s.templates = t

	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.detector.Middleware)
	r.Use(s.tracer.Middleware)
	r.Use(applog.ContextMiddleware(s.logger, trace.RequestIDFromRequest))
	r.Use(security.Headers(security.DefaultHeadersConfig()))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.With(security.StaticAssetMiddleware(3600)).Handle("/static/*", static)
	} else {
		s.logger.Warn("Failed to mount embedded static FS", "error", err)
	}

	r.Get("/", s.handleIndex)

	onLimit := func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, s.detector.ClientIP(r),
			applog.FieldPath, r.URL.Path)
		ErrorResponse(r, http.StatusTooManyRequests, "Zu viele Anfragen, bitte später erneut versuchen").Write(w)
	}
	limited := s.limiter.Middleware(s.detector.ClientIP, onLimit)

	r.Route("/datasets", func(r chi.Router) {
		r.Use(security.NoStore)
		r.Get("/", s.handleListDatasets)
		r.With(limited).Post("/", s.handleUpload)
		r.With(limited).Post("/sheets", s.handleImportSheet)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleDashboard)
			r.Delete("/", s.handleDelete)
			r.Post("/delete", s.handleDelete)
			r.Get("/report", s.handleReport)
			r.Get("/export.{format}", s.handleExport)
			r.With(limited).Post("/exports", s.handleRequestExport)
		})
	})

	r.Route("/exports/{job}", func(r chi.Router) {
		r.Use(security.NoStore)
		r.Get("/", s.handleExportJob)
		r.Get("/{file}", s.handleExportFile)
	})
	return r
}

// Shutdown stops the rate limiter and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// respondError logs server side failures and writes the matching error
// response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.structured.LogError(r.Context(), "Request failed", err, op, applog.NewFields().
			WithRequestID(trace.GetRequestID(r.Context())))
	} else {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Request rejected",
			applog.FieldOperation, op,
			applog.FieldStatusCode, status,
			applog.FieldError, err.Error())
	}
	ErrorResponse(r, status, errorMessage(status, err)).Write(w)
}

func (s *Server) countUpload() { atomic.AddInt64(&s.appMetrics.uploads, 1) }
func (s *Server) countReport() { atomic.AddInt64(&s.appMetrics.reports, 1) }
func (s *Server) countExport() { atomic.AddInt64(&s.appMetrics.exports, 1) }
