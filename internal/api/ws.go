package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/authz"
	"github.com/vaultkeep/backupd/internal/websocket"
)

// WSHandler handles the WebSocket upgrade endpoint GET /automation/ws,
// streaming run/audit terminal-state notifications to connected operator
// clients (§1). Authentication uses a JWT passed as the `token` query
// parameter instead of the Authorization header — browsers cannot set
// custom headers on WebSocket connections opened via the native WebSocket
// API.
//
// Topic subscription is declared at connection time via the `topics` query
// parameter; unrecognized topic prefixes are dropped rather than rejected,
// since an unsubscribed topic is harmless (the client just never receives
// anything on it).
//
// Example connection URL:
//
//	ws://host/automation/ws?token=<jwt>&topics=run:018f...,audit
type WSHandler struct {
	hub      *websocket.Hub
	verifier authz.Verifier
	logger   *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *websocket.Hub, verifier authz.Verifier, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		verifier: verifier,
		logger:   logger.Named("ws_handler"),
	}
}

// ServeWS handles GET /automation/ws. It authenticates the request,
// requires the "backup:run" permission (the same one gating manual run
// triggers), builds the topic list, upgrades the connection, and starts
// the client read/write pumps. The handler blocks until the connection
// closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		ErrUnauthorized(w)
		return
	}

	claims, err := h.verifier.ValidateAccessToken(tokenStr)
	if err != nil {
		ErrUnauthorized(w)
		return
	}
	if !claims.Has(permBackupRun) {
		ErrForbidden(w)
		return
	}

	topics := resolveTopics(r)
	if len(topics) == 0 {
		topics = []string{"audit"}
	}

	client, err := websocket.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		h.logger.Warn("ws: upgrade failed",
			zap.String("user_id", claims.UserID),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("ws: client connected",
		zap.String("user_id", claims.UserID),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Strings("topics", topics),
	)

	client.Run()

	h.logger.Info("ws: client disconnected",
		zap.String("user_id", claims.UserID),
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// resolveTopics parses the comma-separated `topics` query parameter,
// restricted to the prefixes the hub actually publishes on (§6.1
// run:<uuid>, schedule:<uuid>, audit). Anything else is dropped.
func resolveTopics(r *http.Request) []string {
	seen := make(map[string]struct{})
	var topics []string

	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if t != "audit" && !strings.HasPrefix(t, "run:") && !strings.HasPrefix(t, "schedule:") {
			return
		}
		if _, exists := seen[t]; !exists {
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}

	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			add(t)
		}
	}

	return topics
}
