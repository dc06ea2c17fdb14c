package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchWriteWait = 5 * time.Second
	watchQueue     = 8
)

// WatchMessage is one frame on a watch stream.
type WatchMessage struct {
	Type         string `json:"type"`
	RemainingSec *int64 `json:"remainingSec,omitempty"`
	Data         any    `json:"data"`
}

func (s *Server) handleWatchSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.game.CurrentSession(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.stream(w, r, func(ctx context.Context, out chan<- WatchMessage) error {
		ch, err := s.game.WatchSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		for v := range ch {
			remaining := s.game.RemainingSeconds(v)
			select {
			case out <- WatchMessage{Type: "session", RemainingSec: &remaining, Data: v}:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
}

func (s *Server) handleWatchMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	p, err := s.game.Join(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.stream(w, r, func(ctx context.Context, out chan<- WatchMessage) error {
		ch, err := s.game.WatchParticipant(ctx, p.SessionID, p.UserID)
		if err != nil {
			return err
		}
		for v := range ch {
			select {
			case out <- WatchMessage{Type: "participant", Data: v}:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
}

// stream upgrades the request and pumps messages from feed until either side
// goes away. Closing the socket only cancels the subscription.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, feed func(context.Context, chan<- WatchMessage) error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	out := make(chan WatchMessage, watchQueue)
	go func() {
		defer close(out)
		if err := feed(ctx, out); err != nil {
			s.log.Warn("watch feed failed", "path", r.URL.Path, "err", err)
		}
	}()

	// Reader: only control frames are expected; any error ends the stream.
	readTimeout := 3 * s.cfg.WatchHeartbeatInterval
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.WatchHeartbeatInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		case msg, ok := <-out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
