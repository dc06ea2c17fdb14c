package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"econfair/internal/auth"
	"econfair/internal/config"
	"econfair/internal/docstore"
	"econfair/internal/game"
	"econfair/internal/model"
	"econfair/internal/tuning"
)

const adminKey = "facilitator-secret"

type testAPI struct {
	t     *testing.T
	srv   *Server
	clock *game.FakeClock
}

func newTestAPI(t *testing.T, facilitatorHash string) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := game.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := game.NewService(docstore.NewMemory(), game.Config{
		Tuning:      tuning.Default(),
		MaxAttempts: 16,
		RetryDelay:  time.Millisecond,
		Clock:       clock,
		Seed:        3,
	}, logger)
	fac, err := auth.NewFacilitator(facilitatorHash)
	require.NoError(t, err)
	cfg := config.APIConfig{WatchHeartbeatInterval: time.Second, SweepMaxParticipants: 10}
	return &testAPI{t: t, srv: New(cfg, logger, auth.DevProvider{}, fac, svc), clock: clock}
}

func hashedAdminKey(t *testing.T) string {
	t.Helper()
	h, err := auth.HashFacilitatorKey(adminKey)
	require.NoError(t, err)
	return h
}

func (a *testAPI) do(method, path, token, idem string, body any) (int, map[string]any) {
	a.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func (a *testAPI) admin(path string, body any) (int, map[string]any) {
	a.t.Helper()
	if body == nil {
		body = map[string]any{}
	}
	return a.do(http.MethodPost, "/v1/admin"+path, adminKey, "", body)
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t, "")
	code, body := a.do(http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
}

func TestFacilitatorAuth(t *testing.T) {
	disabled := newTestAPI(t, "")
	code, _ := disabled.admin("/round/start", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	a := newTestAPI(t, hashedAdminKey(t))
	code, _ = a.do(http.MethodPost, "/v1/admin/round/start", "", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.do(http.MethodPost, "/v1/admin/round/start", "guess", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, body := a.admin("/round/start", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["code"])
}

func TestParticipantAuth(t *testing.T) {
	a := newTestAPI(t, "")
	code, _ := a.do(http.MethodGet, "/v1/me", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.do(http.MethodGet, "/v1/me", "not-dev", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := a.do(http.MethodPost, "/v1/auth/login", "", "", map[string]any{"email": "mina@fair.kr", "password": "x"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, auth.DevToken("mina"), body["access_token"])
}

func TestFairFlow(t *testing.T) {
	a := newTestAPI(t, hashedAdminKey(t))
	tok := auth.DevToken("mina")

	code, _ := a.do(http.MethodGet, "/v1/session", tok, "", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, body := a.admin("/sessions", map[string]any{"id": "spring", "durationSec": 1200})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "READY", body["roundStatus"])

	code, body = a.do(http.MethodPost, "/v1/booths/labor", tok, "", map[string]any{"amount": 100})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "round not running", body["error"])

	code, _ = a.admin("/round/start", nil)
	require.Equal(t, http.StatusOK, code)

	code, body = a.do(http.MethodGet, "/v1/me", tok, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 10000, body["balance"])

	code, body = a.do(http.MethodPost, "/v1/stocks/"+url.PathEscape("Stock A")+"/buy", tok, "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "insufficient funds", body["error"])

	code, body = a.do(http.MethodPost, "/v1/booths/labor", tok, "shift-1", map[string]any{"amount": 200000})
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 210000, body["balance"])
	code, body = a.do(http.MethodPost, "/v1/booths/labor", tok, "shift-1", map[string]any{"amount": 200000})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate", body["code"])

	code, body = a.do(http.MethodPost, "/v1/booths/casino", tok, "", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["code"])

	code, body = a.do(http.MethodPost, "/v1/stocks/"+url.PathEscape("Stock A")+"/buy", tok, "", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["holding"])

	code, body = a.do(http.MethodPost, "/v1/stocks/"+url.PathEscape("Stock Z")+"/buy", tok, "", nil)
	assert.Equal(t, http.StatusNotFound, code, body)

	code, body = a.do(http.MethodPost, "/v1/bank/products", tok, "", map[string]any{"type": "short", "principal": 1000})
	require.Equal(t, http.StatusCreated, code, body)
	product := body["product"].(map[string]any)
	id := product["id"].(string)
	assert.Equal(t, "1.5", product["multiplier"])

	code, body = a.do(http.MethodPost, "/v1/bank/products/"+id+"/withdraw", tok, "", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "not matured", body["error"])

	a.clock.Advance(10 * time.Minute)
	code, body = a.do(http.MethodPost, "/v1/admin/sweep", adminKey, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["withdrawn"])

	code, body = a.do(http.MethodPost, "/v1/bank/products/"+id+"/cancel", tok, "", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already settled", body["error"])

	code, _ = a.do(http.MethodPost, "/v1/quest", tok, "", map[string]any{"answers": []string{"one"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = a.do(http.MethodGet, "/v1/session", tok, "", nil)
	require.Equal(t, http.StatusOK, code)
	board := body["board"].(map[string]any)
	assert.EqualValues(t, 2, board["stepCount"])
	assert.EqualValues(t, 1, board["step"])

	code, body = a.do(http.MethodGet, "/v1/admin/participants", adminKey, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["participants"], 1)

	code, _ = a.admin("/round/stop", nil)
	require.Equal(t, http.StatusOK, code)
	code, body = a.admin("/round/stop", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "state", body["code"])
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{model.Validation("bad"), http.StatusBadRequest},
		{model.ErrRoundNotRunning, http.StatusConflict},
		{model.ErrCapReached, http.StatusUnprocessableEntity},
		{model.Conflict("conflict"), http.StatusConflict},
		{model.ErrNoOpenSession, http.StatusNotFound},
		{model.ErrDuplicateIdempotency, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tt.err)
		if rec.Code != tt.status {
			t.Fatalf("%v: status %d want %d", tt.err, rec.Code, tt.status)
		}
	}
}

func TestUserLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := newUserLimiter(1)
	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("a", now))
	assert.False(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now))
	assert.True(t, l.Allow("a", now.Add(time.Second)))

	var off *userLimiter
	assert.True(t, off.Allow("a", now))
}

func TestWatchSessionStream(t *testing.T) {
	a := newTestAPI(t, hashedAdminKey(t))
	code, _ := a.admin("/sessions", map[string]any{"id": "spring", "durationSec": 600})
	require.Equal(t, http.StatusOK, code)

	ts := httptest.NewServer(a.srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/watch/session?access_token=" + url.QueryEscape(auth.DevToken("mina"))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() WatchMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var msg struct {
			WatchMessage
			Data model.Session `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		msg.WatchMessage.Data = msg.Data
		return msg.WatchMessage
	}

	first := read()
	assert.Equal(t, "session", first.Type)
	assert.Equal(t, model.RoundReady, first.Data.(model.Session).RoundStatus)
	require.NotNil(t, first.RemainingSec)
	assert.EqualValues(t, 600, *first.RemainingSec)

	code, _ = a.admin("/round/start", nil)
	require.Equal(t, http.StatusOK, code)
	second := read()
	assert.Equal(t, model.RoundRunning, second.Data.(model.Session).RoundStatus)
}

func TestWatchRequiresToken(t *testing.T) {
	a := newTestAPI(t, "")
	ts := httptest.NewServer(a.srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/watch/me"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
