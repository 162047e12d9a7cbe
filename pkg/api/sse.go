package api

import (
	"encoding/json"
	"net/http"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"

	"github.com/gorilla/mux"
)

// subscribe streams conversation messages over server-sent events. The
// cursor query parameter is the last logical timestamp the client has
// seen; everything after it is replayed before live delivery begins.
// The stream ends when the client disconnects, membership is revoked, or
// the client falls too far behind; reconnecting with the last seen
// cursor resumes without loss.
func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	cid := mux.Vars(r)["cid"]

	member, err := a.Guard.IsMember(cid, uid)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		writeMapped(w, err)
		return
	}
	if !member {
		w.Header().Set("Content-Type", "application/json")
		writeMapped(w, models.ErrUnauthorized)
		return
	}

	cursor, err := queryInt(r, "cursor", 0)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	sub, err := a.Hub.Subscribe(cid, uid, cursor)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		writeMapped(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := a.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	logger.Info("subscribe_open", "conversation", cid, "user", uid, "cursor", cursor)
	for {
		select {
		case msg, open := <-sub.C():
			if !open {
				// Hub closed us: kicked, lagging, or shutdown.
				logger.Info("subscribe_closed", "conversation", cid, "user", uid, "state", sub.State().String())
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: message\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			logger.Debug("subscribe_client_gone", "conversation", cid, "user", uid)
			return
		}
	}
}
