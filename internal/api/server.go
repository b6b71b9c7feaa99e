package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mentorchat/internal/membership"
	"mentorchat/internal/router"
	"mentorchat/internal/websocket"
	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

// Server is the REST surface of the chat service: conversation listing,
// history pages, create-or-get, a send fallback for clients without a
// live socket, seen receipts, and administrative deletion. Everything
// goes through the same verifier, authority, and router as the
// WebSocket path.
type Server struct {
	router    *router.Router
	authority *membership.Authority
	store     interfaces.MessageStore
	registry  *websocket.Registry
	verifier  interfaces.CredentialVerifier
	recorder  interfaces.IdentityRecorder
	pageSize  int
	log       zerolog.Logger
}

// NewServer creates the REST API server. pageSize bounds history pages.
func NewServer(rt *router.Router, authority *membership.Authority, store interfaces.MessageStore, registry *websocket.Registry, verifier interfaces.CredentialVerifier, recorder interfaces.IdentityRecorder, pageSize int, log zerolog.Logger) *Server {
	return &Server{
		router:    rt,
		authority: authority,
		store:     store,
		registry:  registry,
		verifier:  verifier,
		recorder:  recorder,
		pageSize:  pageSize,
		log:       log,
	}
}

// Routes builds the authenticated chat API router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.authenticate)

	r.Get("/conversations", s.handleListConversations)
	r.Post("/conversations", s.handleOpenConversation)
	r.Get("/conversations/{key}/messages", s.handleListMessages)
	r.Post("/conversations/{key}/messages", s.handleSendMessage)
	r.Patch("/conversations/{key}/seen", s.handleMarkSeen)
	r.Delete("/conversations/{key}", s.handleDeleteConversation)

	return r
}

type contextKey string

const identityKey contextKey = "identity"

// authenticate verifies the request credential and attaches the
// resolved identity to the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := ""
		if extractor, ok := s.verifier.(websocket.CredentialExtractor); ok {
			raw = extractor.CredentialFromRequest(r)
		}

		identity, err := s.verifier.Verify(raw)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, types.ErrorKindAuth, "authentication required")
			return
		}

		if err := s.recorder.UpsertUser(r.Context(), *identity); err != nil {
			s.log.Error().Err(err).Str("user", identity.ID).Msg("identity record failed")
			s.writeError(w, http.StatusServiceUnavailable, types.ErrorKindDelivery, "service unavailable")
			return
		}

		ctx := contextWithIdentity(r.Context(), *identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleListConversations returns every conversation the caller
// participates in.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	conversations, err := s.store.ConversationsFor(r.Context(), identity.ID)
	if err != nil {
		s.log.Error().Err(err).Str("user", identity.ID).Msg("listing conversations failed")
		s.writeError(w, http.StatusInternalServerError, types.ErrorKindDelivery, "could not load conversations")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

type openConversationRequest struct {
	CounterpartyID string `json:"counterpartyId"`
}

// handleOpenConversation creates or resolves the conversation with the
// named counterparty. Repeated calls return the same key.
func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req openConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !types.IsValidUserID(req.CounterpartyID) {
		s.writeError(w, http.StatusBadRequest, types.ErrorKindInvalidEvent, "counterpartyId is required")
		return
	}

	conv, err := s.router.Open(r.Context(), identity, req.CounterpartyID)
	if err != nil {
		s.writeRouterError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"conversation": conv})
}

// handleListMessages returns one history page for a conversation the
// caller participates in. Query parameters: before (sequence cursor)
// and limit (capped at the configured page size).
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	key := chi.URLParam(r, "key")

	if err := s.authority.CanAccess(r.Context(), identity, key); err != nil {
		s.writeRouterError(w, err)
		return
	}

	beforeSeq, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
	limit := s.pageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed < limit {
			limit = parsed
		}
	}

	messages, err := s.store.Page(r.Context(), key, beforeSeq, limit)
	if err != nil {
		s.log.Error().Err(err).Str("conversation", key).Msg("history page failed")
		s.writeError(w, http.StatusInternalServerError, types.ErrorKindDelivery, "could not load messages")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// handleSendMessage is the REST fallback for sending. The message takes
// the same path as a socket send: authorized, persisted, then fanned
// out to live subscribers.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	key := chi.URLParam(r, "key")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, types.ErrorKindInvalidEvent, "text is required")
		return
	}

	msg, err := s.router.Send(r.Context(), identity, key, req.Text)
	if err != nil {
		s.writeRouterError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// handleMarkSeen flags the counterparty's messages as seen.
func (s *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	key := chi.URLParam(r, "key")

	if err := s.authority.CanAccess(r.Context(), identity, key); err != nil {
		s.writeRouterError(w, err)
		return
	}

	if err := s.store.MarkSeen(r.Context(), key, identity.ID); err != nil {
		s.log.Error().Err(err).Str("conversation", key).Msg("mark seen failed")
		s.writeError(w, http.StatusInternalServerError, types.ErrorKindDelivery, "could not update messages")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDeleteConversation removes a conversation and its history. An
// administrative action outside the routing core, restricted to ADMIN.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	key := chi.URLParam(r, "key")

	if identity.Role != types.RoleAdmin {
		s.writeError(w, http.StatusForbidden, types.ErrorKindAuthorization, "admin role required")
		return
	}

	if _, err := membership.ParseKey(key); err != nil {
		s.writeError(w, http.StatusBadRequest, types.ErrorKindAuthorization, "invalid conversation key")
		return
	}

	if err := s.store.DeleteConversation(r.Context(), key); err != nil {
		if errors.Is(err, interfaces.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, types.ErrorKindNotFound, "conversation not found")
			return
		}
		s.log.Error().Err(err).Str("conversation", key).Msg("delete conversation failed")
		s.writeError(w, http.StatusInternalServerError, types.ErrorKindDelivery, "could not delete conversation")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleHealth reports liveness of the store and registry counters.
// Mounted outside the authenticated subtree.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]any{
		"status":   "ok",
		"registry": s.registry.Stats(),
	}
	if err := s.store.HealthCheck(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "degraded"
		health["store"] = err.Error()
	}
	s.writeJSON(w, status, health)
}

// writeRouterError maps routing-pipeline errors onto HTTP statuses
// consistent with the socket protocol's error kinds.
func (s *Server) writeRouterError(w http.ResponseWriter, err error) {
	kind := router.KindFor(err)
	status := http.StatusInternalServerError
	switch kind {
	case types.ErrorKindAuthorization:
		status = http.StatusForbidden
	case types.ErrorKindInvalidEvent:
		status = http.StatusBadRequest
	case types.ErrorKindDelivery:
		status = http.StatusBadGateway
	}
	s.writeError(w, status, kind, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, detail string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "detail": detail},
	})
}
