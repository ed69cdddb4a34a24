package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/events"
	"github.com/crystal-mush/gochanserv/pkg/privs"
	"github.com/crystal-mush/gochanserv/pkg/registry"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// AuditQuerier serves recent audit records. audit.SQLSink implements it.
type AuditQuerier interface {
	Recent(ctx context.Context, channel string, limit int) ([]audit.Entry, error)
}

// WebConfig holds configuration for the web server.
type WebConfig struct {
	Port      int
	Host      string
	JWTSecret string
	JWTExpiry int
}

// WebServer exposes health, metrics and the staff audit API.
type WebServer struct {
	svc       *Services
	httpSrv   *http.Server
	mux       *http.ServeMux
	auth      *AuthService
	history   AuditQuerier
	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewWebServer creates a web server. history may be nil when no audit
// database is configured.
func NewWebServer(svc *Services, history AuditQuerier, cfg WebConfig) *WebServer {
	ws := &WebServer{
		svc:       svc,
		mux:       http.NewServeMux(),
		auth:      NewAuthService(cfg.JWTSecret, cfg.JWTExpiry),
		history:   history,
		startTime: time.Now(),
	}
	ws.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           ws.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ws.registerRoutes()
	return ws
}

// Auth returns the auth service.
func (ws *WebServer) Auth() *AuthService {
	return ws.auth
}

// Handler returns the route table, for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.mux
}

func (ws *WebServer) registerRoutes() {
	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	if ws.svc.Metrics != nil {
		ws.mux.Handle("GET /metrics", ws.svc.Metrics.Handler())
	}
	ws.mux.Handle("GET /api/v1/audit", authMiddleware(ws.auth, ws.requireStaff(http.HandlerFunc(ws.handleAuditList))))
	ws.mux.HandleFunc("GET /api/v1/audit/ws", ws.handleAuditFeed)
	ws.mux.Handle("GET /api/v1/channels", authMiddleware(ws.auth, ws.requireStaff(http.HandlerFunc(ws.handleChannelList))))
	ws.mux.Handle("DELETE /api/v1/channels/{name}", authMiddleware(ws.auth, http.HandlerFunc(ws.handleChannelDrop)))
}

// Start begins listening and blocks until the server stops.
func (ws *WebServer) Start() error {
	ln, err := net.Listen("tcp", ws.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("web listener: %w", err)
	}
	log.Info().Str("component", "web").Str("addr", ln.Addr().String()).Msg("web server listening")
	err = ws.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the web server.
func (ws *WebServer) Stop(ctx context.Context) error {
	return ws.httpSrv.Shutdown(ctx)
}

// --- Auth ---

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext extracts JWT Claims from an HTTP request context.
func ClaimsFromContext(ctx context.Context) *Claims {
	if v, ok := ctx.Value(claimsKey).(*Claims); ok {
		return v
	}
	return nil
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// authMiddleware validates the bearer token and injects its Claims
// into the request context.
func authMiddleware(auth *AuthService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		claims, err := auth.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// isStaff reports whether account currently holds general:viewprivs.
// Checked per request so revoking a class takes effect at once.
func (ws *WebServer) isStaff(account string) bool {
	acct, ok := ws.svc.Registry.Account(account)
	return ok && ws.svc.Privs.AccountHas(acct, privs.ViewPrivs)
}

func (ws *WebServer) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || !ws.isStaff(claims.Account) {
			writeError(w, http.StatusForbidden, "general:viewprivs required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Handlers ---

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": time.Since(ws.startTime).Seconds(),
		"channels":       ws.svc.Registry.Len(),
		"users":          ws.svc.Network.UserCount(),
	})
}

func (ws *WebServer) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if ws.history == nil {
		writeError(w, http.StatusServiceUnavailable, "audit database not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	entries, err := ws.history.Recent(r.Context(), r.URL.Query().Get("channel"), limit)
	if err != nil {
		log.Error().Err(err).Str("component", "web").Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (ws *WebServer) handleChannelList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": ws.svc.Registry.ChannelNames()})
}

// handleChannelDrop removes a channel registration. It needs chan:admin.
func (ws *WebServer) handleChannelDrop(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	acct, ok := ws.svc.Registry.Account(claims.Account)
	if !ok || !ws.svc.Privs.AccountHas(acct, privs.ChanAdmin) {
		writeError(w, http.StatusForbidden, "chan:admin required")
		return
	}
	ch, ok := ws.svc.Registry.Channel(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not registered")
		return
	}
	if err := ws.svc.Registry.DropChannel(ch.Name); err != nil {
		if errors.Is(err, registry.ErrNoSuchChannel) {
			writeError(w, http.StatusNotFound, "channel not registered")
			return
		}
		log.Error().Err(err).Str("component", "web").Str("channel", ch.Name).Msg("channel drop failed")
		writeError(w, http.StatusInternalServerError, "drop failed")
		return
	}
	ws.svc.Audit.Record(r.Context(), audit.Entry{
		Service: ws.svc.ChanServ.Nick(),
		Actor:   acct.Name,
		Account: acct.Name,
		Channel: ch.Name,
		Action:  "DROP",
		Detail:  "founder " + ch.Founder,
	})
	writeJSON(w, http.StatusOK, map[string]string{"dropped": ch.Name})
}

// --- Audit feed ---

// WSMessage is the JSON frame sent on the audit feed.
type WSMessage struct {
	Type  string       `json:"type"`
	Text  string       `json:"text,omitempty"`
	Entry *audit.Entry `json:"entry,omitempty"`
}

// handleAuditFeed upgrades to a WebSocket that streams audit records.
// The token may be passed as ?token= since browsers cannot set headers
// on WebSocket requests.
func (ws *WebServer) handleAuditFeed(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	claims, err := ws.auth.ValidateToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if !ws.isStaff(claims.Account) {
		writeError(w, http.StatusForbidden, "general:viewprivs required")
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "web").Msg("websocket upgrade failed")
		return
	}
	feed := newFeedConn(conn)
	ws.svc.Bus.SubscribeGlobal(feed)
	log.Info().Str("component", "web").Str("account", claims.Account).Msg("audit feed opened")

	go feed.writeLoop()
	feed.send(WSMessage{Type: "welcome", Text: "audit feed for " + claims.Account})
	feed.readLoop()

	ws.svc.Bus.UnsubscribeGlobal(feed)
	log.Info().Str("component", "web").Str("account", claims.Account).Msg("audit feed closed")
}

// feedConn is a bus subscriber forwarding audit events to one socket.
// Receive never blocks; frames are dropped when the client lags.
type feedConn struct {
	conn *websocket.Conn
	out  chan WSMessage

	mu     sync.Mutex
	closed bool
}

func newFeedConn(conn *websocket.Conn) *feedConn {
	return &feedConn{conn: conn, out: make(chan WSMessage, 64)}
}

func (f *feedConn) Receive(ev events.Event) {
	if ev.Type != events.EvAudit {
		return
	}
	e, ok := ev.Data["entry"].(audit.Entry)
	if !ok {
		return
	}
	f.send(WSMessage{Type: "audit", Entry: &e})
}

func (f *feedConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *feedConn) send(msg WSMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.out <- msg:
	default:
	}
}

func (f *feedConn) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.out)
	}
}

func (f *feedConn) writeLoop() {
	defer f.conn.Close()
	for msg := range f.out {
		f.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := f.conn.WriteJSON(msg); err != nil {
			f.close()
			return
		}
	}
}

// readLoop discards client frames until the connection closes.
func (f *feedConn) readLoop() {
	defer f.close()
	for {
		if _, _, err := f.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("component", "web").Msg("audit feed read error")
			}
			return
		}
	}
}
