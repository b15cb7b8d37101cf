// Package server exposes the control surface: JSON endpoints for the
// ping/start/stop/status requests the web app sends, and a WebSocket channel
// that relays every run event to connected subscribers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aqilrvsb/UNMASK-TIK/internal/bus"
	"github.com/aqilrvsb/UNMASK-TIK/internal/engine"
	"github.com/aqilrvsb/UNMASK-TIK/internal/events"
	"github.com/aqilrvsb/UNMASK-TIK/internal/store"
)

// Runner is the engine surface the server needs.
type Runner interface {
	Start(orderIDs []string) (int, error)
	Stop()
	Status() engine.Snapshot
}

// Accounts resolves an account email to its pending masked orders. Nil when
// the service runs without a backing store (explicit order IDs only).
type Accounts interface {
	CredentialByEmail(ctx context.Context, email string) (*store.Credential, error)
	MaskedOrders(ctx context.Context, credentialID string) ([]string, error)
}

type Server struct {
	runner   Runner
	accounts Accounts
	bus      *bus.Bus
	version  string
	router   *mux.Router
	hub      *hub
}

func New(runner Runner, accounts Accounts, b *bus.Bus, version string) *Server {
	s := &Server{
		runner:   runner,
		accounts: accounts,
		bus:      b,
		version:  version,
		router:   mux.NewRouter(),
	}
	s.hub = newHub(b, func() events.Event {
		snap := runner.Status()
		return events.Connected(snap.IsRunning, events.Counters{
			Processed: snap.Processed,
			Total:     snap.Total,
			Success:   snap.Success,
			Failed:    snap.Failed,
		})
	})

	s.router.HandleFunc("/api/ping", s.handlePing).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/unmask/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/unmask/start-by-email", s.handleStartByEmail).Methods(http.MethodPost)
	s.router.HandleFunc("/api/unmask/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.hub.serveWS)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Close detaches the event relay and drops connected subscribers.
func (s *Server) Close() { s.hub.close() }

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"type":    "PONG",
		"success": true,
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status())
}

type startRequest struct {
	OrderIDs []string `json:"order_ids"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	s.startRun(w, req.OrderIDs)
}

type startByEmailRequest struct {
	Email string `json:"email"`
}

// handleStartByEmail is the store-driven entry: look the account up, list
// its still-masked shipped orders, then run over those.
func (s *Server) handleStartByEmail(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusNotImplemented, "no account store configured")
		return
	}
	var req startByEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing email")
		return
	}

	s.bus.Publish(events.Status("Logging in..."))
	cred, err := s.accounts.CredentialByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.bus.Publish(events.LoginSuccess(req.Email, cred.ShopName))

	s.bus.Publish(events.Status("Fetching orders..."))
	orderIDs, err := s.accounts.MaskedOrders(r.Context(), cred.ID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if len(orderIDs) == 0 {
		s.bus.Publish(events.Status("No orders need unmasking"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "total": 0})
		return
	}
	s.startRun(w, orderIDs)
}

func (s *Server) startRun(w http.ResponseWriter, orderIDs []string) {
	total, err := s.runner.Start(orderIDs)
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "total": total})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.runner.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("⚠️ Response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
