package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	ports "bookinglens/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// DefaultRange is read when no range is configured.
const DefaultRange = "Buchungen!A:Z"

// Config selects the spreadsheet and the credentials used to read it. A
// saved OAuth token takes precedence over service account credentials.
type Config struct {
	SpreadsheetID   string
	Range           string
	CredentialsJSON string
	CredentialsFile string

	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenFile  string
}

// valuesFunc fetches a value range. Tests replace it.
type valuesFunc func(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)

type Client struct {
	spreadsheetID string
	rng           string
	values        valuesFunc
}

var _ ports.RecordSource = (*Client)(nil)

// New creates a Sheets client authenticated with a service account or a
// saved OAuth token.
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	rng := strings.TrimSpace(cfg.Range)
	if rng == "" {
		rng = DefaultRange
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		spreadsheetID: spreadsheetID,
		rng:           rng,
		values: func(ctx context.Context, id, rng string) ([][]interface{}, error) {
			resp, err := svc.Spreadsheets.Values.Get(id, rng).
				ValueRenderOption("FORMATTED_VALUE").
				Context(ctx).Do()
			if err != nil {
				return nil, err
			}
			return resp.Values, nil
		},
	}, nil
}

// newSheetsService initializes a read-only Sheets service from inline JSON,
// a credentials file or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	if strings.TrimSpace(cfg.OAuthTokenFile) != "" {
		return newOAuthService(ctx, cfg)
	}

	serviceAccountJSON := strings.TrimSpace(cfg.CredentialsJSON)
	serviceAccountFile := strings.TrimSpace(cfg.CredentialsFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsReadonlyScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ReadRows returns the configured range as text, header row first.
func (c *Client) ReadRows(ctx context.Context) ([][]string, error) {
	if c.values == nil {
		return nil, errors.New("sheets service not initialized")
	}
	values, err := c.values(ctx, c.spreadsheetID, c.rng)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.rng, err)
	}
	rows := make([][]string, 0, len(values))
	for _, v := range values {
		rows = append(rows, toStrings(v))
	}
	slog.DebugContext(ctx, "Read spreadsheet range", "range", c.rng, "rows", len(rows))
	return rows, nil
}

// Name describes the source for dataset listings.
func (c *Client) Name() string {
	return c.rng
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		if v == nil {
			continue
		}
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
