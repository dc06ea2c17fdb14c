package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"econfair/internal/auth"
	"econfair/internal/game"
	"econfair/internal/model"
	"econfair/internal/syncq"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a response the server produced on purpose, as opposed to a
// transport failure.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than from
// the network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsDuplicate reports whether the server had already applied the intent.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.Code == "duplicate"
}

type SessionView struct {
	Session model.Session   `json:"session"`
	Board   game.PriceBoard `json:"board"`
}

type ParticipantList struct {
	SessionID    string              `json:"sessionId"`
	Participants []model.Participant `json:"participants"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Session(ctx context.Context, accessToken string) (SessionView, error) {
	var out SessionView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/session", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Me(ctx context.Context, accessToken string) (model.Participant, error) {
	var out model.Participant
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", accessToken, nil, &out, "")
	return out, err
}

// BoothIntent and the other *Intent helpers build replayable participant
// requests.
func BoothIntent(booth model.Booth, amount int64, idem string) syncq.Command {
	return syncq.Command{
		Method:         http.MethodPost,
		Path:           "/v1/booths/" + strings.ToLower(string(booth)),
		Body:           map[string]any{"amount": amount},
		IdempotencyKey: idem,
	}
}

// TradeIntent targets market "stocks" or "realestate" with side "buy" or "sell".
func TradeIntent(market, asset, side, idem string) syncq.Command {
	return syncq.Command{
		Method:         http.MethodPost,
		Path:           fmt.Sprintf("/v1/%s/%s/%s", market, url.PathEscape(asset), side),
		IdempotencyKey: idem,
	}
}

func ProductIntent(pt model.ProductType, principal int64, idem string) syncq.Command {
	return syncq.Command{
		Method:         http.MethodPost,
		Path:           "/v1/bank/products",
		Body:           map[string]any{"type": string(pt), "principal": principal},
		IdempotencyKey: idem,
	}
}

// SettleIntent takes action "cancel" or "withdraw".
func SettleIntent(productID, action, idem string) syncq.Command {
	return syncq.Command{
		Method:         http.MethodPost,
		Path:           fmt.Sprintf("/v1/bank/products/%s/%s", url.PathEscape(productID), action),
		IdempotencyKey: idem,
	}
}

func QuestIntent(answers []string, idem string) syncq.Command {
	return syncq.Command{
		Method:         http.MethodPost,
		Path:           "/v1/quest",
		Body:           map[string]any{"answers": answers},
		IdempotencyKey: idem,
	}
}

// Send executes a participant intent and decodes the response into out.
func (c *Client) Send(ctx context.Context, accessToken string, cmd syncq.Command, out any) error {
	var body any
	if cmd.Body != nil {
		body = cmd.Body
	}
	return c.jsonRequest(ctx, cmd.Method, cmd.Path, accessToken, body, out, cmd.IdempotencyKey)
}

func (c *Client) OpenSession(ctx context.Context, adminKey, id string, durationSec int64) (model.Session, error) {
	var out model.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/sessions", adminKey, map[string]any{
		"id":          id,
		"durationSec": durationSec,
	}, &out, "")
	return out, err
}

// RoundAction posts to one of round/start, round/stop, scenario/regenerate.
func (c *Client) RoundAction(ctx context.Context, adminKey, action string) (model.Session, error) {
	var out model.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/"+action, adminKey, map[string]any{}, &out, "")
	return out, err
}

func (c *Client) Participants(ctx context.Context, adminKey string) (ParticipantList, error) {
	var out ParticipantList
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/participants", adminKey, nil, &out, "")
	return out, err
}

func (c *Client) Sweep(ctx context.Context, adminKey string) (game.SweepReport, error) {
	var out game.SweepReport
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/sweep", adminKey, nil, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Code = payload.Error, payload.Code
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
