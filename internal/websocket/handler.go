package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

// HandlerConfig carries the transport timings for live connections.
type HandlerConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
}

// Handler upgrades HTTP requests to WebSocket sessions. The credential
// is verified before the upgrade: an unauthenticated request is refused
// with a plain HTTP status and never reaches the protocol.
type Handler struct {
	registry *Registry
	router   interfaces.EventRouter
	verifier interfaces.CredentialVerifier
	recorder interfaces.IdentityRecorder
	cfg      HandlerConfig
	log      zerolog.Logger

	upgrader websocket.Upgrader
}

// CredentialExtractor pulls a raw credential out of the handshake
// request. Implemented by the JWT verifier (cookie first, bearer header
// as fallback).
type CredentialExtractor interface {
	CredentialFromRequest(r *http.Request) string
}

// NewHandler creates the WebSocket entry point.
func NewHandler(registry *Registry, rt interfaces.EventRouter, verifier interfaces.CredentialVerifier, recorder interfaces.IdentityRecorder, cfg HandlerConfig, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		router:   rt,
		verifier: verifier,
		recorder: recorder,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				// Browser origin policy is enforced by the CORS layer in
				// front of the API; the socket accepts any origin and
				// relies on the credential check below.
				return true
			},
		},
	}
}

// HandleWebSocket authenticates, upgrades, and runs one session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw := ""
	if extractor, ok := h.verifier.(CredentialExtractor); ok {
		raw = extractor.CredentialFromRequest(r)
	}

	identity, err := h.verifier.Verify(raw)
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("handshake rejected")
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if err := h.recorder.UpsertUser(r.Context(), *identity); err != nil {
		h.log.Error().Err(err).Str("user", identity.ID).Msg("identity record failed")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(wsConn, *identity, h.cfg.SendBuffer, h.cfg.WriteTimeout)

	if err := h.registry.Register(conn); err != nil {
		h.log.Error().Err(err).Str("user", identity.ID).Msg("session registration failed")
		_ = conn.Close()
		return
	}

	h.log.Info().
		Str("session", conn.ID()).
		Str("user", identity.ID).
		Str("role", string(identity.Role)).
		Msg("session connected")

	go h.readPump(conn)
}

// readPump reads, decodes, and dispatches client events for one
// session, one event at a time. Sequential handling per session is what
// orders a session's join ahead of its sends into the same
// conversation.
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		h.router.HandleDisconnect(conn)
		_ = conn.Close()
		h.log.Info().Str("session", conn.ID()).Str("user", conn.Identity().ID).Msg("session closed")
	}()

	ws := conn.conn
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetReadLimit(int64(types.MaxMessageLength * 4))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("session", conn.ID()).Msg("read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		h.dispatch(conn, data)
	}
}

// dispatch validates one frame at the boundary and hands it to the
// router. Boundary failures are reported to this session only.
func (h *Handler) dispatch(conn *Connection, data []byte) {
	event, err := types.DecodeClientEvent(data)
	if err != nil {
		if werr := conn.WriteEvent(types.NewErrorEvent(types.ErrorKindInvalidEvent, err.Error())); werr != nil {
			h.log.Debug().Err(werr).Str("session", conn.ID()).Msg("error event not delivered")
		}
		return
	}

	ctx := context.Background()
	switch event.Type {
	case types.EventJoin:
		h.router.HandleJoin(ctx, conn, event.Join.CounterpartyID)
	case types.EventLeave:
		h.router.HandleLeave(conn, event.Leave.ConversationKey)
	case types.EventSend:
		h.router.HandleSend(ctx, conn, event.Send.ConversationKey, event.Send.Text)
	}
}

// pingLoop keeps the connection alive until it is closed.
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.done():
			return
		}
	}
}
