// Command bookinglens-sheets-auth authorizes read access to Google Sheets
// for a user account and saves the token for GOOGLE_OAUTH_TOKEN_FILE.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"bookinglens/internal/cli"
	"bookinglens/internal/config"
	gsheet "bookinglens/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).Slog()
	cfg := config.Load()

	oc, err := gsheet.OAuthConfig(cfg.GoogleOAuthClientJSON, cfg.GoogleOAuthClientFile)
	if err != nil {
		logger.Error("Invalid OAuth client", "error", err)
		os.Exit(1)
	}

	// the OAuth client must list this URI as an authorized redirect
	oc.RedirectURL = "http://localhost:" + cfg.OAuthRedirectPort + "/callback"

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if e := r.URL.Query().Get("error"); e != "" {
			http.Error(w, "OAuth error: "+e, http.StatusBadRequest)
			errCh <- fmt.Errorf("authorization denied: %s", e)
			return
		}
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Autorisierung abgeschlossen, das Fenster kann geschlossen werden.")
		select {
		case codeCh <- r.URL.Query().Get("code"):
		default:
		}
	})
	srv := &http.Server{
		Addr:              "localhost:" + cfg.OAuthRedirectPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer srv.Close()

	fmt.Printf("Open this URL to authorize:\n%s\n", oc.AuthCodeURL(state, oauth2.AccessTypeOffline))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		logger.Error("Authorization failed", "error", err)
		os.Exit(1)
	case <-time.After(5 * time.Minute):
		logger.Error("Authorization timed out")
		os.Exit(1)
	case <-sig:
		logger.Error("Interrupted")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		logger.Error("Token exchange failed", "error", err)
		os.Exit(1)
	}

	out := cfg.GoogleOAuthTokenFile
	if out == "" {
		out = "token.json"
	}
	if err := gsheet.SaveToken(out, tok); err != nil {
		logger.Error("Failed to save token", "error", err, "path", out)
		os.Exit(1)
	}
	logger.Info("Saved token", "path", out)
}
