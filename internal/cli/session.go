package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Session is the token stored for one API server.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// BaseDir is ~/.fairctl, created on first use.
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".fairctl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func credentialsPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.json"), nil
}

func serverKey(apiBase string) string {
	return strings.TrimRight(strings.TrimSpace(apiBase), "/")
}

func readCredentials() (map[string]Session, string, error) {
	path, err := credentialsPath()
	if err != nil {
		return nil, "", err
	}
	creds := map[string]Session{}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return creds, path, nil
	}
	if err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", path, err)
	}
	return creds, path, nil
}

func writeCredentials(path string, creds map[string]Session) error {
	body, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveSession stores s for apiBase, replacing any earlier login there.
func SaveSession(apiBase string, s Session) error {
	creds, path, err := readCredentials()
	if err != nil {
		return err
	}
	creds[serverKey(apiBase)] = s
	return writeCredentials(path, creds)
}

// LoadSession returns ErrNotLoggedIn when apiBase has no usable token.
func LoadSession(apiBase string) (Session, error) {
	creds, _, err := readCredentials()
	if err != nil {
		return Session{}, err
	}
	s, ok := creds[serverKey(apiBase)]
	if !ok || strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, ErrNotLoggedIn
	}
	if s.Expired(time.Now()) {
		return Session{}, fmt.Errorf("%w: token for %s expired at %s", ErrNotLoggedIn, serverKey(apiBase), s.ExpiresAt.Format(time.RFC3339))
	}
	return s, nil
}

func ClearSession(apiBase string) error {
	creds, path, err := readCredentials()
	if err != nil {
		return err
	}
	key := serverKey(apiBase)
	if _, ok := creds[key]; !ok {
		return nil
	}
	delete(creds, key)
	return writeCredentials(path, creds)
}
