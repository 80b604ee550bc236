// Package relay exposes a store.Store over WebSocket so that two endpoints
// with no route to each other can share session records through a hosted
// relay. It only ever carries records, never media.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/1ureka/mirror/internal/code"
	"github.com/1ureka/mirror/internal/store"
	"github.com/1ureka/mirror/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pingInterval = 20 * time.Second
	pongWait     = 2 * pingInterval
	writeWait    = 5 * time.Second
)

var log = util.Scoped("relay")

// Server is the relay's HTTP/WebSocket front end.
type Server struct {
	store    store.Store
	token    string
	listener net.Listener
	http     *http.Server
}

// NewServer creates a relay for st. A non-empty token must be presented as
// the "token" query parameter on /ws.
func NewServer(st store.Store, token string) *Server {
	return &Server{store: st, token: token}
}

// Handler returns the relay's routes:
//
//	GET /ws               WebSocket record-store protocol
//	GET /healthz          liveness
//	GET /sessions/{code}  current record as JSON (debugging)
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{code}", s.handleSession).Methods(http.MethodGet)
	return r
}

// Start begins listening on addr (":0" picks a random port). Returns the
// assigned port number.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve: %v", err)
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// Close shuts the listener and open HTTP connections down.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	c := mux.Vars(r)["code"]
	if !code.Valid(c) {
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	}
	rec, err := s.store.Get(r.Context(), c)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.URL.Query().Get("token") != s.token {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := newSession(s.store, conn)
	log.Debug("client connected from %s", r.RemoteAddr)
	sess.serve(r.Context())
	log.Debug("client %s gone", r.RemoteAddr)
}
