// Package auth resolves bearer tokens to participant identities and checks
// the facilitator key. Identities are issued elsewhere; this package only
// verifies them.
package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Verifier maps an access token to the stable user it was issued for.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (User, error)
}

// Provider is a Verifier that can also exchange credentials for a token.
type Provider interface {
	Verifier
	Login(ctx context.Context, email, password string) (Session, error)
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// verifyCacheTTL bounds how long a revoked token keeps working.
const verifyCacheTTL = time.Minute

type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	verified map[[sha256.Size]byte]cachedUser
}

type cachedUser struct {
	user    User
	expires time.Time
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	return &SupabaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		now:      time.Now,
		verified: make(map[[sha256.Size]byte]cachedUser),
	}
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	var out Session
	if err := c.postJSON(ctx, "/auth/v1/token?grant_type=password", payload, &out); err != nil {
		return Session{}, err
	}
	if out.AccessToken == "" || out.User.ID == "" {
		return Session{}, ErrInvalidCredentials
	}
	c.remember(out.AccessToken, out.User)
	return out, nil
}

// VerifyAccessToken asks the provider who owns the token. Answers are cached
// per token for verifyCacheTTL since every intent carries the same token.
func (c *SupabaseClient) VerifyAccessToken(ctx context.Context, accessToken string) (User, error) {
	if user, ok := c.lookup(accessToken); ok {
		return user, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return User{}, fmt.Errorf("verify token: %w", ErrInvalidCredentials)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return User{}, fmt.Errorf("verify token status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	if user.ID == "" {
		return User{}, fmt.Errorf("verify token: provider returned no user id")
	}
	c.remember(accessToken, user)
	return user, nil
}

func (c *SupabaseClient) lookup(token string) (User, bool) {
	key := sha256.Sum256([]byte(token))
	c.mu.Lock()
	defer c.mu.Unlock()
	hit, ok := c.verified[key]
	if !ok {
		return User{}, false
	}
	if !c.now().Before(hit.expires) {
		delete(c.verified, key)
		return User{}, false
	}
	return hit.user, true
}

func (c *SupabaseClient) remember(token string, user User) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.verified {
		if !now.Before(v.expires) {
			delete(c.verified, k)
		}
	}
	c.verified[sha256.Sum256([]byte(token))] = cachedUser{user: user, expires: now.Add(verifyCacheTTL)}
}

func (c *SupabaseClient) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidCredentials
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("supabase status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
