// Package api exposes the HTTP surface: message append and listing,
// live subscription, conversation and participant management, receipts.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatsync/pkg/auth"
	"chatsync/pkg/engine"
	"chatsync/pkg/fanout"
	"chatsync/pkg/models"
	"chatsync/pkg/store"

	"github.com/gorilla/mux"
)

// API bundles the handler dependencies. Handlers never reach for
// package globals; everything they touch comes through here.
type API struct {
	Store        *store.Store
	Guard        *auth.Guard
	Engine       *engine.Engine
	Hub          *fanout.Hub
	BacklogLimit int
	KeepAlive    time.Duration
}

// Register mounts every versioned route on r. The router is expected to
// already carry the auth and telemetry middleware.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/conversations", a.createConversation).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations", a.listConversations).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{cid}", a.getConversation).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{cid}", a.deleteConversation).Methods(http.MethodDelete)

	r.HandleFunc("/v1/conversations/{cid}/participants", a.addParticipant).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{cid}/participants/{uid}", a.removeParticipant).Methods(http.MethodDelete)

	r.HandleFunc("/v1/conversations/{cid}/messages/{mid}", a.putMessage).Methods(http.MethodPut)
	r.HandleFunc("/v1/conversations/{cid}/messages", a.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{cid}/subscribe", a.subscribe).Methods(http.MethodGet)

	r.HandleFunc("/v1/messages/{mid}/receipts", a.setReceipt).Methods(http.MethodPost)
}

// caller extracts the authenticated user id, writing 401 when absent.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := auth.UserIDFromContext(r.Context())
	if uid == "" {
		http.Error(w, `{"error":"user identity required"}`, http.StatusUnauthorized)
		return "", false
	}
	return uid, true
}

// writeMapped translates domain sentinels to their HTTP status.
func writeMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrConversationNotFound), errors.Is(err, models.ErrMessageNotFound):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusNotFound)
	case errors.Is(err, models.ErrUnauthorized):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusForbidden)
	case errors.Is(err, models.ErrStaleParent),
		errors.Is(err, models.ErrMessageIDTaken),
		errors.Is(err, models.ErrConversationExists):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusConflict)
	case errors.Is(err, models.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusServiceUnavailable)
	default:
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
	}
}

// queryInt parses an integer query parameter, returning def when absent
// and an error for garbage.
func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}
