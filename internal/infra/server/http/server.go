// Package httpserver exposes the gateway's read-only HTTP surface: health,
// session state, broker auth status and the account summary.
package httpserver

import (
	"context"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/asxtrader/errs"
	"github.com/coachpo/asxtrader/internal/infra/adapters/ibkr"
)

const (
	healthPath  = "/healthz"
	sessionPath = "/session"
	statusPath  = "/status"
	summaryPath = "/account/summary"
)

// Broker is the subset of the broker client the handlers read from.
type Broker interface {
	IsConnected() bool
	Session() ibkr.Session
	Status(ctx context.Context) (ibkr.AuthStatus, error)
	AccountSummary(ctx context.Context) (ibkr.AccountSummary, error)
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	broker Broker
}

// NewHandler creates the gateway HTTP handler.
func NewHandler(broker Broker) http.Handler {
	server := &httpServer{broker: broker}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(sessionPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.session,
	}))
	mux.Handle(statusPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.status,
	}))
	mux.Handle(summaryPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.summary,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	if !s.broker.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) session(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Session())
}

func (s *httpServer) status(w http.ResponseWriter, r *http.Request) {
	status, err := s.broker.Status(r.Context())
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *httpServer) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.broker.AccountSummary(r.Context())
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// writeBrokerError maps broker failures onto gateway statuses. Upstream HTTP
// codes are not forwarded as-is.
func writeBrokerError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errs.IsConnection(err):
		status = http.StatusServiceUnavailable
	case errs.IsNetwork(err):
		status = http.StatusGatewayTimeout
	case errs.IsConfiguration(err):
		status = http.StatusInternalServerError
	}
	writeError(w, status, err.Error())
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
