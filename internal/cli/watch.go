package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one message of a watch stream; Data is decoded by the caller
// according to Type.
type Frame struct {
	Type         string          `json:"type"`
	RemainingSec *int64          `json:"remainingSec,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// WatchURL turns the HTTP base URL into the websocket URL for path.
func WatchURL(baseURL, path, accessToken string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("access_token", accessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Watch streams frames from path into fn until ctx is done, the server ends
// the stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, path, accessToken string, fn func(Frame) error) error {
	target, err := WatchURL(c.BaseURL, path, accessToken)
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: "watch handshake rejected"}
		}
		return fmt.Errorf("dial watch: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read watch: %w", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}
