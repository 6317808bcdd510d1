// Package http provides HTTP server and handler implementations.
//
// This file turns query strings and forms into dashboard queries and export
// requests.

package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bookinglens/internal/analytics"
	"bookinglens/internal/export"
)

// ErrBadRequest marks errors caused by malformed parameters.
var ErrBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

var dateLayouts = []string{"2006-01-02", "2.1.2006"}

// parseDate accepts ISO dates from date inputs and German dates typed by
// hand.
func parseDate(name, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, badRequest("%s: invalid date %q", name, v)
}

// parsePeriod reads "<prefix>from", "<prefix>to" and "<prefix>year" (with
// the first letter capitalized after a prefix, e.g. compareFrom). A range
// wins over a year; an empty or "all" year selects everything.
func parsePeriod(values url.Values, prefix string) (analytics.Period, error) {
	key := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + strings.ToUpper(name[:1]) + name[1:]
	}

	from := strings.TrimSpace(values.Get(key("from")))
	to := strings.TrimSpace(values.Get(key("to")))
	year := strings.TrimSpace(values.Get(key("year")))

	if from != "" || to != "" {
		if from == "" || to == "" {
			return analytics.Period{}, badRequest("%s and %s must be given together", key("from"), key("to"))
		}
		start, err := parseDate(key("from"), from)
		if err != nil {
			return analytics.Period{}, err
		}
		end, err := parseDate(key("to"), to)
		if err != nil {
			return analytics.Period{}, err
		}
		return analytics.RangePeriod(start, end)
	}

	if year == "" || strings.EqualFold(year, analytics.AllYears) {
		return analytics.Period{}, nil
	}
	y, err := strconv.Atoi(year)
	if err != nil || y < 1900 || y > 9999 {
		return analytics.Period{}, badRequest("%s: invalid year %q", key("year"), year)
	}
	return analytics.YearPeriod(y), nil
}

// parseBool accepts the values HTML checkboxes and API clients send.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes", "ja":
		return true
	}
	return false
}

// ParseReportQuery builds the dashboard query from URL parameters:
//
//	from, to        inclusive arrival date range (YYYY-MM-DD or DD.MM.YYYY)
//	year            arrival year, used when no range is given
//	region          region name or "all"
//	compare         enable comparison, defaults to the same period a year earlier
//	compareFrom, compareTo, compareYear
//	                explicit comparison period, implies compare
func ParseReportQuery(values url.Values) (analytics.Query, error) {
	period, err := parsePeriod(values, "")
	if err != nil {
		return analytics.Query{}, err
	}
	comparePeriod, err := parsePeriod(values, "compare")
	if err != nil {
		return analytics.Query{}, err
	}

	region := sanitizeInput(values.Get("region"))
	if strings.EqualFold(region, analytics.AllRegions) {
		region = ""
	}

	return analytics.Query{
		Filter:        analytics.Filter{Period: period, Region: region},
		Compare:       parseBool(values.Get("compare")) || !comparePeriod.IsZero(),
		ComparePeriod: comparePeriod,
	}, nil
}

// EncodeReportQuery is the inverse of ParseReportQuery, used for links.
func EncodeReportQuery(q analytics.Query) url.Values {
	v := url.Values{}
	encodePeriod(v, "", q.Filter.Period)
	if q.Filter.Region != "" {
		v.Set("region", q.Filter.Region)
	}
	if q.Compare {
		v.Set("compare", "1")
		encodePeriod(v, "compare", q.ComparePeriod)
	}
	return v
}

func encodePeriod(v url.Values, prefix string, p analytics.Period) {
	key := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + strings.ToUpper(name[:1]) + name[1:]
	}
	switch {
	case p.IsYear():
		v.Set(key("year"), strconv.Itoa(p.Year))
	case !p.IsZero():
		v.Set(key("from"), p.Start.Format("2006-01-02"))
		v.Set(key("to"), p.End.Format("2006-01-02"))
	}
}

// ExportRequest is the body of POST /datasets/{id}/exports.
type ExportRequest struct {
	Query   analytics.Query
	Tables  []export.Kind
	Formats []export.Format
}

// ParseExportRequest reads the query parameters plus repeated "table" and
// "format" values. Both default to every table and both formats.
func ParseExportRequest(values url.Values) (ExportRequest, error) {
	q, err := ParseReportQuery(values)
	if err != nil {
		return ExportRequest{}, err
	}
	req := ExportRequest{Query: q}

	for _, t := range splitList(values["table"]) {
		k, err := export.ParseKind(t)
		if err != nil {
			return ExportRequest{}, badRequest("%v", err)
		}
		req.Tables = append(req.Tables, k)
	}
	if len(req.Tables) == 0 {
		req.Tables = []export.Kind{export.Accommodations, export.Cities, export.Months}
	}

	for _, f := range splitList(values["format"]) {
		format, err := export.ParseFormat(f)
		if err != nil {
			return ExportRequest{}, badRequest("%v", err)
		}
		req.Formats = append(req.Formats, format)
	}
	if len(req.Formats) == 0 {
		req.Formats = []export.Format{export.CSV, export.PDF}
	}
	return req, nil
}

// splitList flattens repeated and comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// wantsJSON reports whether the client prefers JSON over HTML.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
