package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"consultation-service/internal/advisor"
	"consultation-service/internal/ledger"
	"consultation-service/internal/model"
	"consultation-service/internal/session"
	"consultation-service/internal/transcript"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const creditDescription = "Wallet Recharge"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type registerRequest struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	DateOfBirth  string `json:"date_of_birth"`
	TimeOfBirth  string `json:"time_of_birth"`
	PlaceOfBirth string `json:"place_of_birth"`
	ZodiacSign   string `json:"zodiac_sign"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}

	l, err := s.store.Create(r.Context(), &model.UserLedger{
		UserID:       req.UserID,
		Name:         req.Name,
		DateOfBirth:  req.DateOfBirth,
		TimeOfBirth:  req.TimeOfBirth,
		PlaceOfBirth: req.PlaceOfBirth,
		ZodiacSign:   req.ZodiacSign,
	})
	if err != nil {
		s.log.WithError(err).Warn("registration failed")
		writeError(w, http.StatusConflict, "failed to create ledger")
		return
	}

	s.balances.Put(l.UserID, l.WalletBalance)
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	l, err := s.store.Get(r.Context(), userID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		// Cached balance keeps the wallet view available through a store
		// hiccup; billing never reads it.
		if balance, ok := s.balances.Get(userID); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"user_id":        userID,
				"wallet_balance": balance,
				"stale":          true,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	s.balances.Put(l.UserID, l.WalletBalance)
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	txs, err := s.rec.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

type topUpRequest struct {
	Amount int64 `json:"amount"`
}

// handleTopUp is the simulated payment collaborator: it credits the wallet
// directly, the way production top-ups arrive via the RabbitMQ consumer.
func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}

	l, err := s.store.Credit(r.Context(), userID, req.Amount)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to credit wallet")
		return
	}

	if _, err := s.rec.Record(r.Context(), userID, req.Amount, model.KindCredit, creditDescription, ""); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("failed to record credit transaction")
	}

	s.balances.Put(l.UserID, l.WalletBalance)
	writeJSON(w, http.StatusOK, l)
}

type startSessionRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	l, err := s.store.Get(r.Context(), req.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	sess, err := s.controller.Start(r.Context(), req.UserID)
	if errors.Is(err, session.ErrSessionActive) {
		writeError(w, http.StatusConflict, "session already active")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	greeting := transcript.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Sender:    transcript.SenderAdvisor,
		Text:      advisor.Greeting(l.Name),
		Timestamp: time.Now().UTC(),
	}
	if err := s.transcripts.Append(r.Context(), sess.ID, greeting); err != nil {
		s.log.WithError(err).Warn("failed to append greeting to transcript")
	}

	status, err := s.controller.Status(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read session status")
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	status, err := s.controller.Status(sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read session status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.controller.Stop(sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// handleSendMessage relays one consultation message. The advisory call is
// independent of metering: a slow or failed call never touches billing, and
// a billing termination at most makes this the session's last answer.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	status, err := s.controller.Status(sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read session status")
		return
	}
	if status.State != session.StateActive {
		writeError(w, http.StatusConflict, "session is not active")
		return
	}

	l, err := s.store.Get(r.Context(), status.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	now := time.Now().UTC()
	userMsg := transcript.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    transcript.SenderUser,
		Text:      req.Text,
		Timestamp: now,
	}
	if err := s.transcripts.Append(r.Context(), sessionID, userMsg); err != nil {
		s.log.WithError(err).Warn("failed to append user message to transcript")
	}

	reply, err := s.advisor.SendMessage(r.Context(), l, req.Text)
	if err != nil {
		if !errors.Is(err, advisor.ErrUnavailable) {
			s.log.WithError(err).Error("advisor call failed")
		}
		reply = advisor.FallbackMessage
	}

	aiMsg := transcript.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    transcript.SenderAdvisor,
		Text:      reply,
		Timestamp: time.Now().UTC(),
	}
	if err := s.transcripts.Append(r.Context(), sessionID, aiMsg); err != nil {
		s.log.WithError(err).Warn("failed to append advisor message to transcript")
	}

	s.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    status.UserID,
	}).Debug("consultation message relayed")

	writeJSON(w, http.StatusOK, aiMsg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.controller.Status(sessionID); errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	msgs, err := s.transcripts.List(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
