package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bookinglens/internal/amqp"
	"bookinglens/internal/core"
	"bookinglens/internal/ingest"
	"bookinglens/internal/services"
)

func TestResponseBuilder_JSON(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/datasets/1").
		JSON(map[string]int{"records": 3}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Location"); got != "/datasets/1" {
		t.Errorf("Location = %q", got)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	var body map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["records"] != 3 {
		t.Errorf("body = %q (%v)", w.Body.String(), err)
	}
}

func TestResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().JSON(map[string]any{"bad": make(chan int)}).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		accept   string
		wantType string
		wantBody string
	}{
		{
			name:     "html",
			wantType: "text/html; charset=utf-8",
			wantBody: `<div class="error">Datei fehlt</div>`,
		},
		{
			name:     "json",
			accept:   "application/json",
			wantType: "application/json",
			wantBody: `{"error":"Datei fehlt","status":400}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.accept != "" {
				r.Header.Set("Accept", tt.accept)
			}
			w := httptest.NewRecorder()
			ErrorResponse(r, http.StatusBadRequest, "Datei fehlt").Write(w)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Status code = %d", w.Code)
			}
			if got := w.Header().Get("Content-Type"); got != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", got, tt.wantType)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestErrorResponse_EscapesHTML(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	ErrorResponse(r, http.StatusBadRequest, "<script>alert('xss')</script>").Write(w)

	body := w.Body.String()
	if strings.Contains(body, "<script>") {
		t.Error("Error response did not escape HTML")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Error("Error response did not properly escape HTML entities")
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", core.ErrDatasetNotFound), http.StatusNotFound},
		{badRequest("year"), http.StatusBadRequest},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("read csv: %w", ingest.ErrEmptyFile), http.StatusUnprocessableEntity},
		{fmt.Errorf("read csv: %w", ingest.ErrMissingColumn), http.StatusUnprocessableEntity},
		{core.ErrInvalidPeriod, http.StatusUnprocessableEntity},
		{services.ErrSheetsDisabled, http.StatusServiceUnavailable},
		{services.ErrExportsDisabled, http.StatusServiceUnavailable},
		{fmt.Errorf("queue export: %w", amqp.ErrCircuitOpen), http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestErrorMessage_HidesInternals(t *testing.T) {
	if got := errorMessage(http.StatusInternalServerError, errors.New("sqlite: locked")); got != "Interner Fehler" {
		t.Errorf("errorMessage = %q", got)
	}
	if got := errorMessage(http.StatusNotFound, core.ErrDatasetNotFound); got != core.ErrDatasetNotFound.Error() {
		t.Errorf("errorMessage = %q", got)
	}
}
