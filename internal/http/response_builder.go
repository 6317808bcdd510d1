// Package http provides HTTP server and handler implementations.
//
// This file implements a small builder for responses so handlers answer
// HTML forms and JSON clients consistently.

package http

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"bookinglens/internal/amqp"
	"bookinglens/internal/core"
	"bookinglens/internal/ingest"
	"bookinglens/internal/services"
)

// ResponseBuilder provides a fluent API for building responses.
type ResponseBuilder struct {
	statusCode int
	body       []byte
	headers    map[string]string
	err        error
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON encodes v as the body. An encoding failure turns the response into
// a 500.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		b.err = err
		return b
	}
	b.headers["Content-Type"] = "application/json"
	b.body = append(data, '\n')
	return b
}

// BodyHTML sets the response body as HTML content.
func (b *ResponseBuilder) BodyHTML(html string) *ResponseBuilder {
	b.headers["Content-Type"] = "text/html; charset=utf-8"
	b.body = []byte(html)
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	if b.err != nil {
		slog.Error("Failed to encode response", "error", b.err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(b.statusCode)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// errorBody is the JSON error shape.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// ErrorResponse answers JSON clients with an error object and browsers with
// an escaped HTML fragment.
func ErrorResponse(r *http.Request, statusCode int, message string) *ResponseBuilder {
	if wantsJSON(r) {
		return NewResponse().Status(statusCode).JSON(errorBody{Error: message, Status: statusCode})
	}
	return NewResponse().
		Status(statusCode).
		BodyHTML(`<div class="error">` + template.HTMLEscapeString(message) + `</div>`)
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrDatasetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, ingest.ErrEmptyFile),
		errors.Is(err, ingest.ErrMissingColumn):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrSheetsDisabled),
		errors.Is(err, services.ErrExportsDisabled),
		errors.Is(err, amqp.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorMessage hides internal details behind a generic text.
func errorMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "Interner Fehler"
	}
	return err.Error()
}
