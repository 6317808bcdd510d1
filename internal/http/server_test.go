package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bookinglens/internal/amqp"
	"bookinglens/internal/analytics"
	"bookinglens/internal/cache"
	"bookinglens/internal/core"
	applog "bookinglens/internal/log"
	"bookinglens/internal/services"
	"bookinglens/internal/sheets/memory"
)

const bookingsCSV = "Buchungsdatum;Anreise;Abreise;Unterkunft;Ort;Region;Gesamtpreis;Provision;Storniert\n" +
	"05.01.2024;10.02.2024;13.02.2024;Seeblick;Bregenz;Vorarlberg;1.200,00;120,00;nein\n" +
	"07.01.2024;01.03.2024;03.03.2024;Altbau;Graz;Steiermark;750,00;75,00;nein\n" +
	"08.01.2024;05.03.2024;06.03.2024;Altbau;Graz;Steiermark;300,00;30,00;ja\n" +
	"10.01.2023;10.02.2023;12.02.2023;Seeblick;Bregenz;Vorarlberg;800,00;80,00;nein\n"

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.ExportRequestMessage
	err  error
}

func (p *fakePublisher) PublishExportRequest(_ context.Context, msg *amqp.ExportRequestMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type testEnv struct {
	srv *Server
	svc *services.DashboardService
}

func newTestServer(t *testing.T, opts services.Options, maxUpload int64) testEnv {
	t.Helper()
	opts.Store = memory.New()
	opts.ReportCache = cache.NewLRUCache[analytics.Report](16, time.Minute)
	svc := services.NewDashboardService(opts)

	logger := applog.New(applog.Config{Level: slog.LevelError, Output: io.Discard})
	srv := NewServer(Options{
		Addr:           ":0",
		Dashboard:      svc,
		Logger:         logger,
		MaxUploadBytes: maxUpload,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return testEnv{srv: srv, svc: svc}
}

func (e testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Accept", "application/json")
	return req
}

// upload posts bookingsCSV as a raw body and returns the dataset id.
func (e testEnv) upload(t *testing.T) string {
	t.Helper()
	req := jsonRequest(http.MethodPost, "/datasets?name=Saison", strings.NewReader(bookingsCSV))
	req.Header.Set("Content-Type", "text/csv")
	rr := e.do(req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status=%d body=%s", rr.Code, rr.Body.String())
	}
	var info core.DatasetInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if rr.Header().Get("Location") != "/datasets/"+info.ID {
		t.Fatalf("Location = %q", rr.Header().Get("Location"))
	}
	return info.ID
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestServer(t, services.Options{}, 0)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Buchungsdaten hochladen") {
		t.Fatalf("index body missing heading")
	}
	if strings.Contains(rr.Body.String(), "Google Sheets") {
		t.Errorf("sheets import offered although disabled")
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "datasets_uploaded_total 0") {
		t.Fatalf("metrics status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestReadyReportsBackendFailure(t *testing.T) {
	env := newTestServer(t, services.Options{}, 0)
	env.srv.ready = func(context.Context) error { return errors.New("database is locked") }

	rr := env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "database is locked") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newTestServer(t, services.Options{}, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := env.do(req)

	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Errorf("missing Content-Security-Policy")
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestUploadMultipartRedirectsToDashboard(t *testing.T) {
	env := newTestServer(t, services.Options{}, 0)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "buchungen-2024.csv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(bookingsCSV))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/datasets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := env.do(req)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("upload status=%d body=%s", rr.Code, rr.Body.String())
	}
	location := rr.Header().Get("Location")
	if !strings.HasPrefix(location, "/datasets/") {
		t.Fatalf("Location = %q", location)
	}

	list, err := env.svc.List(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}
	if list[0].Name != "buchungen-2024" {
		t.Errorf("name = %q, want file name without extension", list[0].Name)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, location+"?year=2024&compare=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status=%d body=%s", rr.Code, rr.Body.String())
	}
	page := rr.Body.String()
	for _, want := range []string{"Top Unterkünfte", "Seeblick", "Graz", "Stornoquote", "export.csv?", "Vergleich"} {
		if !strings.Contains(page, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if got := rr.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestUploadErrors(t *testing.T) {
	env := newTestServer(t, services.Options{}, 256)

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"empty file", "text/csv", "", http.StatusUnprocessableEntity},
		{"missing columns", "text/csv", "Name;Preis\nA;1\n", http.StatusUnprocessableEntity},
		{"too large", "text/csv", bookingsCSV + bookingsCSV, http.StatusRequestEntityTooLarge},
		{"form without file", "application/x-www-form-urlencoded", "name=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(http.MethodPost, "/datasets", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rr := env.do(req)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
			var body struct {
				Error  string `json:"error"`
				Status int    `json:"status"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Status != tt.want {
				t.Errorf("error body = %q (%v)", rr.Body.String(), err)
			}
		})
	}
}

func TestReportJSON(t *testing.T) {
	env := newTestServer(t, services.Options{}, 0)
	id := env.upload(t)

	rr := env.do(jsonRequest(http.MethodGet, "/datasets/"+id+"/report?year=2024&compare=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("report status=%d body=%s", rr.Code, rr.Body.String())
	}
	var rep analytics.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.KPIs.Current.TotalRevenue != 1950 {
		t.Errorf("revenue = %v, want 1950", rep.KPIs.Current.TotalRevenue)
	}
	if rep.KPIs.Current.BookingCount != 3 || rep.KPIs.Current.CancelledCount != 1 {
		t.Errorf("bookings = %+v", rep.KPIs.Current)
	}
	d := rep.KPIs.Deltas.Revenue
	if d == nil || math.Abs(*d-1.4375) > 1e-9 {
		t.Errorf("revenue delta = %v, want 1.4375", d)
	}
	if len(rep.TopAccommodations) != 2 || rep.TopAccommodations[0].Current.Key != "Seeblick" {
		t.Errorf("ranking = %+v", rep.TopAccommodations)
	}

	rr = env.do(jsonRequest(http.MethodGet, "/datasets/"+id+"/report?year=soon", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad year status=%d", rr.Code)
	}

	rr = env.do(jsonRequest(http.MethodGet, "/datasets/missing/report", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing dataset status=%d", rr.Code)
	}
}

func TestExportDownloads(t *testing.T) {
	env := newTestServer(t, services.Options{}, 0)
	id := env.upload(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/datasets/"+id+"/export.csv?table=cities&year=2024", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("csv status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "attachment;") || !strings.Contains(got, ".csv") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(rr.Body.String(), "Graz") || !strings.Contains(rr.Body.String(), "Bregenz") {
		t.Errorf("csv body = %q", rr.Body.String())
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/datasets/"+id+"/export.pdf?table=months", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("pdf status=%d", rr.Code)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("%PDF")) {
		t.Errorf("pdf body does not start with %%PDF")
	}

	for _, target := range []string{
		"/datasets/" + id + "/export.xlsx",
		"/datasets/" + id + "/export.csv?table=guests",
	} {
		rr = env.do(jsonRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s status=%d", target, rr.Code)
		}
	}
}

func TestRequestExport(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestServer(t, services.Options{Publisher: pub}, 0)
	id := env.upload(t)

	rr := env.do(jsonRequest(http.MethodPost, "/datasets/"+id+"/exports?year=2024&table=cities&format=pdf", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "queued" || body["jobId"] == "" {
		t.Errorf("body = %v", body)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.DatasetID != id || msg.JobID != body["jobId"] {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.Tables) != 1 || msg.Tables[0] != "cities" || len(msg.Formats) != 1 || msg.Formats[0] != "pdf" {
		t.Errorf("tables=%v formats=%v", msg.Tables, msg.Formats)
	}

	// browsers are sent back to the dashboard
	rr = env.do(httptest.NewRequest(http.MethodPost, "/datasets/"+id+"/exports", nil))
	if rr.Code != http.StatusSeeOther || !strings.Contains(rr.Header().Get("Location"), "queued=") {
		t.Errorf("status=%d Location=%q", rr.Code, rr.Header().Get("Location"))
	}

	pub.err = amqp.ErrCircuitOpen
	rr = env.do(jsonRequest(http.MethodPost, "/datasets/"+id+"/exports", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("open circuit status=%d", rr.Code)
	}
}

func TestOptionalFeaturesDisabled(t *testing.T) {
	env := newTestServer(t, services.Options{}, 0)
	id := env.upload(t)

	rr := env.do(jsonRequest(http.MethodPost, "/datasets/"+id+"/exports", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("exports status=%d", rr.Code)
	}
	rr = env.do(jsonRequest(http.MethodPost, "/datasets/sheets", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("sheets status=%d", rr.Code)
	}
}

func TestListAndDelete(t *testing.T) {
	env := newTestServer(t, services.Options{}, 0)
	first := env.upload(t)
	second := env.upload(t)

	rr := env.do(jsonRequest(http.MethodGet, "/datasets", nil))
	var list []core.DatasetInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || len(list) != 2 {
		t.Fatalf("list = %s (%v)", rr.Body.String(), err)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/datasets", nil))
	if rr.Code != http.StatusSeeOther {
		t.Errorf("browser list status=%d", rr.Code)
	}

	rr = env.do(httptest.NewRequest(http.MethodDelete, "/datasets/"+first, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	rr = env.do(jsonRequest(http.MethodGet, "/datasets/"+first+"/report", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("report after delete status=%d", rr.Code)
	}

	rr = env.do(httptest.NewRequest(http.MethodPost, "/datasets/"+second+"/delete", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Errorf("form delete status=%d Location=%q", rr.Code, rr.Header().Get("Location"))
	}

	rr = env.do(jsonRequest(http.MethodDelete, "/datasets/"+second, nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status=%d", rr.Code)
	}
}

func TestMonthBars(t *testing.T) {
	big, small := 1000.0, 5.0
	points := []analytics.MonthPoint{
		{Month: "2024-01", Comparison: core.Comparison{Current: core.Bucket{TotalRevenue: big}}},
		{Month: "2024-02", Comparison: core.Comparison{Current: core.Bucket{TotalRevenue: small}}},
		{Month: "2024-03"},
	}
	bars := monthBars(points)
	if len(bars) != 3 {
		t.Fatalf("bars = %d", len(bars))
	}
	if bars[0].Width != 100 || bars[1].Width != 2 || bars[2].Width != 0 {
		t.Errorf("widths = %d %d %d", bars[0].Width, bars[1].Width, bars[2].Width)
	}
	if bars[1].Label != "Feb 2024" {
		t.Errorf("label = %q", bars[1].Label)
	}
}
