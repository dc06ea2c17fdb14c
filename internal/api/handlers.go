package api

import (
	"context"
	"net/http"

	"econfair/internal/game"
	"econfair/internal/model"
)

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.game.CurrentSession(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	board, err := s.game.Prices(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "board": board})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleBooth(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	booth, err := model.ParseBooth(pathParam(r, "booth"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.CreditSimpleBooth(r.Context(), game.BoothInput{
		UserID:         user.UserID,
		Booth:          booth,
		Amount:         in.Amount,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStockBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.game.BuyStock)
}

func (s *Server) handleStockSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.game.SellStock)
}

func (s *Server) handleEstateBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.game.BuyRealEstate)
}

func (s *Server) handleEstateSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.game.SellRealEstate)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, trade func(context.Context, game.TradeInput) (game.TradeResult, error)) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := trade(r.Context(), game.TradeInput{
		UserID:         user.UserID,
		Asset:          pathParam(r, "asset"),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Type      string `json:"type"`
		Principal int64  `json:"principal"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pt, err := model.ParseProductType(in.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.game.CreateBankProduct(r.Context(), game.ProductInput{
		UserID:         user.UserID,
		Type:           pt,
		Principal:      in.Principal,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleCancelProduct(w http.ResponseWriter, r *http.Request) {
	s.handleSettle(w, r, s.game.CancelBankProduct)
}

func (s *Server) handleWithdrawProduct(w http.ResponseWriter, r *http.Request) {
	s.handleSettle(w, r, s.game.WithdrawBankProduct)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request, settle func(context.Context, game.SettleInput) (game.ProductResult, error)) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := settle(r.Context(), game.SettleInput{
		UserID:         user.UserID,
		ProductID:      pathParam(r, "id"),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQuest(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Answers []string `json:"answers"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.SubmitQuest(r.Context(), game.QuestInput{
		UserID:         user.UserID,
		Answers:        in.Answers,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
