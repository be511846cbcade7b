package server

import (
	"context"
	"net/http"
	"time"

	"consultation-service/internal/advisor"
	"consultation-service/internal/cache"
	"consultation-service/internal/ledger"
	"consultation-service/internal/recorder"
	"consultation-service/internal/session"
	"consultation-service/internal/transcript"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP surface: registration, wallet, sessions and the
// advisory relay. All billing behaviour lives below it.
type Server struct {
	log         *logrus.Logger
	store       ledger.Store
	rec         *recorder.Recorder
	controller  *session.Controller
	advisor     advisor.Advisor
	transcripts transcript.Store
	balances    *cache.Balances

	httpServer *http.Server
}

func New(
	log *logrus.Logger,
	store ledger.Store,
	rec *recorder.Recorder,
	controller *session.Controller,
	adv advisor.Advisor,
	transcripts transcript.Store,
	balances *cache.Balances,
) *Server {
	return &Server{
		log:         log,
		store:       store,
		rec:         rec,
		controller:  controller,
		advisor:     adv,
		transcripts: transcripts,
		balances:    balances,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/users", s.handleRegister)
		api.Get("/users/{userID}/wallet", s.handleWallet)
		api.Get("/users/{userID}/transactions", s.handleTransactions)
		api.Post("/users/{userID}/wallet/topup", s.handleTopUp)

		api.Post("/sessions", s.handleStartSession)
		api.Get("/sessions/{sessionID}", s.handleSessionStatus)
		api.Delete("/sessions/{sessionID}", s.handleStopSession)
		api.Post("/sessions/{sessionID}/messages", s.handleSendMessage)
		api.Get("/sessions/{sessionID}/messages", s.handleListMessages)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// ListenAndServe runs the HTTP server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.log.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
