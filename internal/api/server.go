package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"econfair/internal/auth"
	"econfair/internal/config"
	"econfair/internal/game"
	"econfair/internal/model"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

type Server struct {
	cfg         config.APIConfig
	log         *slog.Logger
	auth        auth.Provider
	facilitator *auth.Facilitator
	game        *game.Service
	limiter     *userLimiter
	upgrader    websocket.Upgrader
	mux         *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, provider auth.Provider, facilitator *auth.Facilitator, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if facilitator == nil {
		facilitator = &auth.Facilitator{}
	}
	if cfg.WatchHeartbeatInterval <= 0 {
		cfg.WatchHeartbeatInterval = 20 * time.Second
	}
	s := &Server{
		cfg:         cfg,
		log:         logger,
		auth:        provider,
		facilitator: facilitator,
		game:        gameSvc,
		limiter:     newUserLimiter(cfg.RatePerSec),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/auth/login", s.handleLogin)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.facilitatorMiddleware)
				r.Post("/sessions", s.handleOpenSession)
				r.Post("/round/start", s.handleStartRound)
				r.Post("/round/stop", s.handleStopRound)
				r.Post("/scenario/regenerate", s.handleRegenerate)
				r.Get("/participants", s.handleParticipants)
				r.Post("/sweep", s.handleSweep)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/session", s.handleSession)
				r.Get("/me", s.handleMe)

				r.Group(func(r chi.Router) {
					r.Use(s.rateLimit)
					r.Post("/booths/{booth}", s.handleBooth)
					r.Post("/stocks/{asset}/buy", s.handleStockBuy)
					r.Post("/stocks/{asset}/sell", s.handleStockSell)
					r.Post("/realestate/{asset}/buy", s.handleEstateBuy)
					r.Post("/realestate/{asset}/sell", s.handleEstateSell)
					r.Post("/bank/products", s.handleCreateProduct)
					r.Post("/bank/products/{id}/cancel", s.handleCancelProduct)
					r.Post("/bank/products/{id}/withdraw", s.handleWithdrawProduct)
					r.Post("/quest", s.handleQuest)
				})
			})
		})

		// Watch streams are long-lived and stay outside the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/watch/session", s.handleWatchSession)
			r.Get("/watch/me", s.handleWatchMe)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			// Browsers cannot set headers on a websocket handshake.
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) facilitatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r.Header.Get("Authorization"))
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing facilitator key")
			return
		}
		switch err := s.facilitator.Check(key); {
		case errors.Is(err, auth.ErrFacilitatorDisabled):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case err != nil:
			s.log.Warn("facilitator key rejected", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid facilitator key")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrDuplicateIdempotency) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "code": "duplicate"})
		return
	}
	kind := model.KindOf(err)
	var status int
	switch kind {
	case model.KindValidation:
		status = http.StatusBadRequest
	case model.KindState:
		status = http.StatusConflict
	case model.KindResource:
		status = http.StatusUnprocessableEntity
	case model.KindConflict:
		status = http.StatusConflict
	case model.KindNotFound:
		status = http.StatusNotFound
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "code": kind.String()})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// idempotencyKey returns "" when the client sent none; such intents are not
// deduplicated.
func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}
