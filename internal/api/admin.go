package api

import (
	"net/http"
	"strings"
)

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID          string `json:"id"`
		DurationSec int64  `json:"durationSec"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.game.OpenOrResetSession(r.Context(), strings.TrimSpace(in.ID), in.DurationSec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("session opened", "session_id", sess.ID, "duration_sec", sess.RoundDurationSec)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStartRound(w http.ResponseWriter, r *http.Request) {
	sess, err := s.game.StartRound(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("round started", "session_id", sess.ID, "ends_at", sess.RoundEndsAt)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStopRound(w http.ResponseWriter, r *http.Request) {
	sess, err := s.game.StopRound(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("round stopped", "session_id", sess.ID)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.game.RegenerateScenario(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	sess, err := s.game.CurrentSession(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ps, err := s.game.Participants(r.Context(), sess.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sess.ID, "participants": ps})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.game.SweepSession(r.Context(), s.cfg.SweepMaxParticipants)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
