package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSServer is the websocket transport of a gateway
type WSServer struct {
	gw       *Gateway
	upgrader websocket.Upgrader
}

// NewWSServer creates the websocket handler. allowedOrigins of ["*"] or
// empty accepts any origin.
func NewWSServer(gw *Gateway, allowedOrigins []string) *WSServer {
	return &WSServer{
		gw: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// BearerToken extracts the credential from the Authorization header or
// the token / auth query parameters.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return r.URL.Query().Get("auth")
}

// ServeHTTP authenticates and admits the connection before upgrading.
// Rejected attempts never join a room.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cc, err := s.gw.Connect(ctx, BearerToken(r))
	if err != nil {
		log.Info().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Connection authentication failed")
		rejectJSON(w, http.StatusUnauthorized, domain.EventUnauthorized, domain.NewError(domain.CodeAuthentication, "authentication required", false))
		return
	}

	admitted, err := s.gw.AdmitConnection(ctx, cc)
	if err != nil {
		rejectJSON(w, http.StatusInternalServerError, domain.EventError, domain.NewError(domain.CodeInternal, "admission check failed", true))
		return
	}
	if !admitted {
		rejectJSON(w, http.StatusTooManyRequests, domain.EventQuotaExceeded,
			domain.NewError(domain.CodeQuotaExceeded, "connection quota exceeded", false).
				WithDetails(map[string]any{"resource": domain.ResourceConnections}))
		return
	}

	conn, err := s.gw.Register(ctx, cc, r.URL.Query().Get("session_id"))
	if err != nil {
		rejectJSON(w, resumeStatus(err), domain.EventError, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", conn.ID).Msg("Failed to upgrade websocket")
		s.gw.Disconnect(conn, "upgrade failed")
		return
	}

	if s.gw.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(s.gw.cfg.MaxMessageSize)
	}

	go s.writePump(ws, conn)
	go s.readPump(ws, conn)
}

func resumeStatus(err error) int {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		return http.StatusInternalServerError
	}
	switch derr.Code {
	case domain.CodeSessionNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeSessionExpired:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func rejectJSON(w http.ResponseWriter, status int, event string, err error) {
	msg, encErr := encode(event, "", errorPayload(event, err), time.Now())
	if encErr != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(msg)
}

func (s *WSServer) pongWait() time.Duration {
	if s.gw.cfg.PongWait > 0 {
		return s.gw.cfg.PongWait
	}
	return 60 * time.Second
}

// readPump reads frames and hands each to its own handler goroutine
func (s *WSServer) readPump(ws *websocket.Conn, c *Conn) {
	defer func() {
		s.gw.Disconnect(c, "client disconnected")
		ws.Close()
	}()

	wait := s.pongWait()
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		c.Touch(time.Now())
		return ws.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("Websocket read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		s.gw.DispatchAsync(c, message)
	}
}

// writePump is the only writer to ws
func (s *WSServer) writePump(ws *websocket.Conn, c *Conn) {
	interval := s.gw.cfg.PingInterval
	if interval <= 0 {
		interval = s.pongWait() * 9 / 10
	}
	writeTimeout := s.gw.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg := <-c.Outbox():
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("Websocket write failed")
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
