package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	appLog "tradein/internal/log"
)

const (
	credentialsFile     = "credentials.json"
	tokenFile           = "token.json"
	DefaultCallbackPort = 8085
)

// OAuth manages the installed-app credentials and token kept in Dir.
type OAuth struct {
	Dir  string
	Port int
}

// Config loads the Google client secret JSON downloaded from the cloud
// console and scopes it to calendar events.
func (o OAuth) Config() (*oauth2.Config, error) {
	path := filepath.Join(o.Dir, credentialsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrNoCredentials, path)
		}
		return nil, fmt.Errorf("calendar: read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse credentials: %w", err)
	}
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/callback", o.port())
	return cfg, nil
}

func (o OAuth) port() int {
	if o.Port <= 0 {
		return DefaultCallbackPort
	}
	return o.Port
}

// LoadToken returns nil, nil when no token was saved yet.
func (o OAuth) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(filepath.Join(o.Dir, tokenFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calendar: read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("calendar: parse token: %w", err)
	}
	return &tok, nil
}

func (o OAuth) SaveToken(tok *oauth2.Token) error {
	if err := os.MkdirAll(o.Dir, 0o700); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("calendar: marshal token: %w", err)
	}
	if err := os.WriteFile(filepath.Join(o.Dir, tokenFile), data, 0o600); err != nil {
		return fmt.Errorf("calendar: write token: %w", err)
	}
	return nil
}

// HTTPClient returns an authorized client, persisting a refreshed token.
func (o OAuth) HTTPClient(ctx context.Context) (*http.Client, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	tok, err := o.LoadToken()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: no token in %s, run 'tradein auth' first", ErrNoCredentials, o.Dir)
	}
	src := cfg.TokenSource(ctx, tok)
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", ErrNoCredentials, err)
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := o.SaveToken(fresh); err != nil {
			appLog.Warn("failed to save refreshed token", "error", err.Error())
		}
	}
	return oauth2.NewClient(ctx, src), nil
}

// RunAuthFlow prints the consent URL to out, waits for the local callback
// and saves the exchanged token.
func (o OAuth) RunAuthFlow(ctx context.Context, out io.Writer) error {
	cfg, err := o.Config()
	if err != nil {
		return err
	}
	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", o.port()))
	if err != nil {
		return fmt.Errorf("calendar: start callback server: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			report(errCh, errors.New("calendar: oauth state mismatch"))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "no code received", http.StatusBadRequest)
			report(errCh, errors.New("calendar: no code in callback"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Authorization successful</h1><p>You can close this tab.</p></body></html>`)
		select {
		case codeCh <- code:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			report(errCh, err)
		}
	}()
	defer srv.Close()

	fmt.Fprintf(out, "Visit this URL to authorize calendar access:\n%s\n\n",
		cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return errors.New("calendar: authorization timed out")
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("calendar: exchange code: %w", err)
	}
	if err := o.SaveToken(tok); err != nil {
		return err
	}
	fmt.Fprintln(out, "Authorization successful. Token saved.")
	return nil
}

func report(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}
