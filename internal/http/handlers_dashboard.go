package http

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bookinglens/internal/analytics"
	"bookinglens/internal/core"
	"bookinglens/internal/export"
	"bookinglens/internal/format"
	applog "bookinglens/internal/log"
)

const requestTimeout = 15 * time.Second

// handleIndex renders the upload page with the live datasets.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded")
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	datasets, err := s.dash.List(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Dataset list error", "error", err)
	}

	data := struct {
		Datasets      []core.DatasetInfo
		SheetsEnabled bool
		MaxUploadMB   int64
	}{
		Datasets:      datasets,
		SheetsEnabled: s.dash.SheetsEnabled(),
		MaxUploadMB:   s.maxUpload >> 20,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.ErrorContext(ctx, "Index template execution failed", "error", err, "template", "index.html")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleListDatasets answers API clients with the dataset list and sends
// browsers to the index page.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	if !wantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	datasets, err := s.dash.List(r.Context())
	if err != nil {
		s.respondError(w, r, applog.OpList, err)
		return
	}
	if datasets == nil {
		datasets = []core.DatasetInfo{}
	}
	NewResponse().JSON(datasets).Write(w)
}

// handleUpload accepts a multipart form with a "file" field and an optional
// "name", or a raw text/csv body with the name in the query string.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		info core.DatasetInfo
		err  error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv", "text/plain":
		info, err = s.dash.Upload(ctx, sanitizeInput(r.URL.Query().Get("name")), r.Body)
	default:
		info, err = s.uploadForm(ctx, r)
	}
	if err != nil {
		s.respondError(w, r, applog.OpUpload, err)
		return
	}

	s.countUpload()
	s.created(w, r, applog.OpUpload, info)
}

func (s *Server) uploadForm(ctx context.Context, r *http.Request) (core.DatasetInfo, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return core.DatasetInfo{}, err
		}
		return core.DatasetInfo{}, badRequest("invalid upload form: %v", err)
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.DatasetInfo{}, badRequest("Bitte eine CSV-Datei auswählen")
	}
	defer file.Close()

	name := sanitizeInput(r.FormValue("name"))
	if name == "" {
		base := filepath.Base(header.Filename)
		name = sanitizeInput(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	return s.dash.Upload(ctx, name, file)
}

// handleImportSheet reads the configured spreadsheet as a new dataset.
func (s *Server) handleImportSheet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	info, err := s.dash.ImportSheet(ctx)
	if err != nil {
		s.respondError(w, r, applog.OpImport, err)
		return
	}
	s.countUpload()
	s.created(w, r, applog.OpImport, info)
}

// created answers a successful upload: 201 with the dataset for API
// clients, a redirect to the dashboard for browsers.
func (s *Server) created(w http.ResponseWriter, r *http.Request, op string, info core.DatasetInfo) {
	s.structured.LogDatasetLoaded(r.Context(), op, info.ID, info.Name, info.Source, info.Records, info.SkippedRows)
	location := "/datasets/" + url.PathEscape(info.ID)
	if wantsJSON(r) {
		NewResponse().
			Status(http.StatusCreated).
			Header("Location", location).
			JSON(info).
			Write(w)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// handleReport returns the computed report as JSON.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q, err := ParseReportQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, r, applog.OpReport, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rep, err := s.dash.Report(ctx, id, q)
	if err != nil {
		s.respondError(w, r, applog.OpReport, err)
		return
	}
	s.countReport()
	NewResponse().JSON(rep).Write(w)
}

// handleDashboard renders the dashboard page for one dataset.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded")
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	id := chi.URLParam(r, "id")
	q, err := ParseReportQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, r, applog.OpReport, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ds, err := s.dash.Dataset(ctx, id)
	if err != nil {
		s.respondError(w, r, applog.OpReport, err)
		return
	}
	rep, err := s.dash.Report(ctx, id, q)
	if err != nil {
		s.respondError(w, r, applog.OpReport, err)
		return
	}
	s.countReport()

	view, err := newDashboardView(ds.Info(), rep, s.dash.ExportsEnabled())
	if err != nil {
		s.respondError(w, r, applog.OpReport, err)
		return
	}
	view.Queued = sanitizeInput(r.URL.Query().Get("queued"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "dashboard.html", view); err != nil {
		s.logger.ErrorContext(ctx, "Dashboard template execution failed", "error", err, "template", "dashboard.html")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleExport renders one report table synchronously as a download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.respondError(w, r, applog.OpExport, badRequest("%v", err))
		return
	}
	kind, err := export.ParseKind(r.URL.Query().Get("table"))
	if err != nil {
		s.respondError(w, r, applog.OpExport, badRequest("%v", err))
		return
	}
	q, err := ParseReportQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, r, applog.OpExport, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	t, rep, err := s.dash.ExportTable(ctx, id, q, kind)
	if err != nil {
		s.respondError(w, r, applog.OpExport, err)
		return
	}

	// render fully before writing headers so a failure still yields a clean
	// error response
	var buf bytes.Buffer
	if err := export.Render(&buf, t, f, time.Now()); err != nil {
		s.respondError(w, r, applog.OpExport, err)
		return
	}
	s.countExport()

	name := export.FileName(rep, kind, string(f))
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleRequestExport queues an asynchronous export job.
func (s *Server) handleRequestExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, applog.OpExport, badRequest("invalid form: %v", err))
		return
	}
	req, err := ParseExportRequest(r.Form)
	if err != nil {
		s.respondError(w, r, applog.OpExport, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	jobID, err := s.dash.RequestExport(ctx, id, req.Query, req.Tables, req.Formats)
	if err != nil {
		s.respondError(w, r, applog.OpExport, err)
		return
	}

	s.structured.LogExportQueued(ctx, jobID, id, len(req.Tables)*len(req.Formats))

	if wantsJSON(r) {
		NewResponse().
			Status(http.StatusAccepted).
			JSON(map[string]string{"jobId": jobID, "status": "queued"}).
			Write(w)
		return
	}
	target := "/datasets/" + url.PathEscape(id) + "?" + withParam(EncodeReportQuery(req.Query), "queued", jobID)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// handleDelete ends a dataset's session. DELETE answers 204, the HTML form
// fallback redirects to the index.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.dash.Delete(r.Context(), id); err != nil {
		s.respondError(w, r, applog.OpDelete, err)
		return
	}
	if r.Method == http.MethodDelete || wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type kpiCard struct {
	Label      string
	Value      string
	Prior      string
	Delta      string
	DeltaClass string
}

type monthBar struct {
	Label      string
	Revenue    string
	Bookings   int
	Width      int
	Delta      string
	DeltaClass string
}

type tableView struct {
	export.Table
	CSV string
	PDF string
}

type filterForm struct {
	Year        string
	From        string
	To          string
	Region      string
	Compare     bool
	CompareYear string
	CompareFrom string
	CompareTo   string
}

type dashboardView struct {
	Dataset        core.DatasetInfo
	Report         analytics.Report
	Filter         filterForm
	KPIs           []kpiCard
	Months         []monthBar
	Tables         []tableView
	Comparing      bool
	ExportsEnabled bool
	Queued         string
	ReportURL      string
	ExportsAction  string
}

func newDashboardView(info core.DatasetInfo, rep analytics.Report, exportsEnabled bool) (dashboardView, error) {
	params := EncodeReportQuery(rep.Query)
	base := "/datasets/" + url.PathEscape(info.ID)

	v := dashboardView{
		Dataset:        info,
		Report:         rep,
		Filter:         newFilterForm(rep.Query),
		KPIs:           kpiCards(rep),
		Months:         monthBars(rep.Monthly),
		Comparing:      rep.Comparing(),
		ExportsEnabled: exportsEnabled,
		ReportURL:      base + "/report?" + params.Encode(),
		ExportsAction:  base + "/exports?" + params.Encode(),
	}

	for _, kind := range []export.Kind{export.Accommodations, export.Cities, export.Months} {
		t, err := export.Build(rep, kind)
		if err != nil {
			return dashboardView{}, err
		}
		v.Tables = append(v.Tables, tableView{
			Table: t,
			CSV:   base + "/export.csv?" + withParam(params, "table", string(kind)),
			PDF:   base + "/export.pdf?" + withParam(params, "table", string(kind)),
		})
	}
	return v, nil
}

// withParam encodes values plus one extra parameter without modifying values.
func withParam(values url.Values, key, value string) string {
	out := url.Values{}
	for k, vs := range values {
		out[k] = append([]string(nil), vs...)
	}
	out.Set(key, value)
	return out.Encode()
}

func newFilterForm(q analytics.Query) filterForm {
	f := filterForm{Region: q.Filter.Region, Compare: q.Compare}
	f.Year, f.From, f.To = periodFields(q.Filter.Period)
	f.CompareYear, f.CompareFrom, f.CompareTo = periodFields(q.ComparePeriod)
	return f
}

func periodFields(p analytics.Period) (year, from, to string) {
	switch {
	case p.IsYear():
		return strconv.Itoa(p.Year), "", ""
	case p.IsZero():
		return "", "", ""
	}
	return "", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02")
}

func kpiCards(rep analytics.Report) []kpiCard {
	cur := rep.KPIs.Current
	prior := rep.KPIs.Prior
	d := rep.KPIs.Deltas

	priorText := func(f func(core.Bucket) string) string {
		if prior == nil {
			return ""
		}
		return f(*prior)
	}

	return []kpiCard{
		{
			Label: "Umsatz",
			Value: format.Currency(cur.TotalRevenue),
			Prior: priorText(func(b core.Bucket) string { return format.Currency(b.TotalRevenue) }),
			Delta: format.Delta(d.Revenue), DeltaClass: deltaClass(d.Revenue),
		},
		{
			Label: "Buchungen",
			Value: format.Number(cur.BookingCount),
			Prior: priorText(func(b core.Bucket) string { return format.Number(b.BookingCount) }),
			Delta: format.Delta(d.Bookings), DeltaClass: deltaClass(d.Bookings),
		},
		{
			Label: "Provision",
			Value: format.Currency(cur.TotalCommission),
			Prior: priorText(func(b core.Bucket) string { return format.Currency(b.TotalCommission) }),
			Delta: format.Delta(d.Commission), DeltaClass: deltaClass(d.Commission),
		},
		{
			Label: "Nächte",
			Value: format.Number(cur.TotalNights),
			Prior: priorText(func(b core.Bucket) string { return format.Number(b.TotalNights) }),
			Delta: format.Delta(d.Nights), DeltaClass: deltaClass(d.Nights),
		},
		{
			Label: "Ø Umsatz je Buchung",
			Value: format.Currency(cur.AverageRevenue()),
			Prior: priorText(func(b core.Bucket) string { return format.Currency(b.AverageRevenue()) }),
		},
		{
			Label: "Stornoquote",
			Value: format.Percentage(cur.CancellationRate()),
			Prior: priorText(func(b core.Bucket) string { return format.Percentage(b.CancellationRate()) }),
			Delta: format.PointDelta(d.CancellationRate),
			// more cancellations are bad news
			DeltaClass: deltaClass(negate(d.CancellationRate)),
		},
	}
}

func monthBars(points []analytics.MonthPoint) []monthBar {
	var max float64
	for _, p := range points {
		if p.Current.TotalRevenue > max {
			max = p.Current.TotalRevenue
		}
	}
	bars := make([]monthBar, 0, len(points))
	for _, p := range points {
		width := 0
		if max > 0 && p.Current.TotalRevenue > 0 {
			width = int(p.Current.TotalRevenue / max * 100)
			if width < 2 {
				width = 2
			}
		}
		bars = append(bars, monthBar{
			Label:      monthLabel(p.Month),
			Revenue:    format.Currency(p.Current.TotalRevenue),
			Bookings:   p.Current.BookingCount,
			Width:      width,
			Delta:      format.Delta(p.Deltas.Revenue),
			DeltaClass: deltaClass(p.Deltas.Revenue),
		})
	}
	return bars
}

var monthNames = [...]string{"Jan", "Feb", "Mär", "Apr", "Mai", "Jun", "Jul", "Aug", "Sep", "Okt", "Nov", "Dez"}

// monthLabel turns "2024-03" into "Mär 2024".
func monthLabel(key string) string {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return key
	}
	return monthNames[t.Month()-1] + " " + strconv.Itoa(t.Year())
}

func deltaClass(d *float64) string {
	switch {
	case d == nil:
		return "delta--none"
	case *d > 0:
		return "delta--up"
	case *d < 0:
		return "delta--down"
	}
	return "delta--flat"
}

func negate(d *float64) *float64 {
	if d == nil {
		return nil
	}
	v := -*d
	return &v
}
