package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// OAuthConfig reads an OAuth client (inline JSON wins over the file) with
// read-only spreadsheet scope.
func OAuthConfig(clientJSON, clientFile string) (*oauth2.Config, error) {
	var b []byte
	switch {
	case strings.TrimSpace(clientJSON) != "":
		b = []byte(clientJSON)
	case strings.TrimSpace(clientFile) != "":
		var err error
		b, err = os.ReadFile(clientFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	cfg, err := goauth.ConfigFromJSON(b, gsheet.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	return cfg, nil
}

// LoadToken reads a token saved by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file holds neither access nor refresh token")
	}
	return &tok, nil
}

// SaveToken writes tok readable by the owner only.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		_ = f.Close()
		return fmt.Errorf("write token: %w", err)
	}
	return f.Close()
}

// newOAuthService reads sheets as the user who authorized the saved token.
// The token is refreshed transparently.
func newOAuthService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	oc, err := OAuthConfig(cfg.OAuthClientJSON, cfg.OAuthClientFile)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.OAuthTokenFile)
	if err != nil {
		return nil, err
	}
	service, err := gsheet.NewService(ctx, goption.WithTokenSource(oc.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}
