package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).Round(time.Second).String(),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	switch {
	case s.ready == nil:
		checks["backend"] = "ok"
	default:
		if err := s.ready(ctx); err != nil {
			checks["backend"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["backend"] = "ok"
		}
	}

	checks["sheets_import"] = enabled(s.dash.SheetsEnabled())
	checks["export_jobs"] = enabled(s.dash.ExportsEnabled())

	NewResponse().Status(httpStatus).JSON(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	traceMetrics := s.tracer.GetMetrics()
	cacheEntries := 0
	if s.cacheSize != nil {
		cacheEntries = s.cacheSize()
	}

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %v\n\n", name, value)
	}

	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_server_errors_total", "counter", "Responses with a 5xx status", traceMetrics.ServerErrors)
	metric("datasets_uploaded_total", "counter", "Datasets uploaded or imported", atomic.LoadInt64(&s.appMetrics.uploads))
	metric("reports_served_total", "counter", "Dashboard reports served", atomic.LoadInt64(&s.appMetrics.reports))
	metric("exports_served_total", "counter", "CSV and PDF downloads and queued export jobs", atomic.LoadInt64(&s.appMetrics.exports))
	metric("report_cache_entries", "gauge", "Current cached reports", cacheEntries)
	metric("rate_limit_hits_total", "counter", "Total rate limit hits", s.limiter.Hits())
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", s.limiter.ActiveClients())
	metric("suspicious_requests_total", "counter", "Total suspicious requests detected", s.detector.SuspiciousRequests())
	metric("uptime_seconds", "gauge", "Application uptime in seconds", fmt.Sprintf("%.0f", time.Since(s.appMetrics.uptime).Seconds()))
}
