package api

import (
	"encoding/json"
	"net/http"

	"chatsync/pkg/braid"
	"chatsync/pkg/engine"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"

	"github.com/gorilla/mux"
)

type putMessageBody struct {
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

// putMessage appends a message under a client-chosen id. The Version and
// Parents request headers carry the claimed braid coordinates; the
// committed version id is echoed in the Version response header. Retrying
// a committed id returns the stored copy unchanged.
func (a *API) putMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	cid, mid := vars["cid"], vars["mid"]

	versions, err := braid.ParseList(r.Header.Get("Version"))
	if err != nil {
		http.Error(w, `{"error":"invalid Version header: `+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	if len(versions) > 1 {
		http.Error(w, `{"error":"at most one version id per message"}`, http.StatusBadRequest)
		return
	}
	parents, err := braid.ParseList(r.Header.Get("Parents"))
	if err != nil {
		http.Error(w, `{"error":"invalid Parents header: `+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	var body putMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	kind := models.MessageKind(body.Kind)
	if kind == "" {
		kind = models.KindText
	}

	req := engine.AppendRequest{
		Conversation: cid,
		MessageID:    mid,
		Sender:       uid,
		Content:      body.Content,
		Kind:         kind,
		Parents:      parents,
	}
	if len(versions) == 1 {
		req.Version = versions[0]
	}

	msg, err := a.Engine.Append(r.Context(), req)
	if err != nil {
		writeMapped(w, err)
		return
	}
	logger.Info("message_appended", "conversation", cid, "msg", mid, "version", msg.Version, "lts", msg.LogicalTS)
	w.Header().Set("Version", braid.FormatItem(msg.Version))
	if len(msg.Parents) > 0 {
		w.Header().Set("Parents", braid.FormatList(msg.Parents))
	}
	_ = json.NewEncoder(w).Encode(msg)
}

// listMessages returns the backlog after the given logical timestamp.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	cid := mux.Vars(r)["cid"]

	member, err := a.Guard.IsMember(cid, uid)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if !member {
		writeMapped(w, models.ErrUnauthorized)
		return
	}

	after, err := queryInt(r, "after", 0)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", int64(a.BacklogLimit))
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	msgs, err := a.Store.ReadRange(cid, after, int(limit))
	if err != nil {
		writeMapped(w, err)
		return
	}
	logger.Debug("messages_list", "conversation", cid, "after", after, "count", len(msgs))
	_ = json.NewEncoder(w).Encode(struct {
		Conversation string           `json:"conversation_id"`
		Messages     []models.Message `json:"messages"`
	}{Conversation: cid, Messages: msgs})
}

type receiptBody struct {
	Delivered bool `json:"delivered"`
	Read      bool `json:"read"`
}

// setReceipt upgrades a message's delivery flags. Flags only move
// forward; a receipt never clears one already set.
func (a *API) setReceipt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	mid := mux.Vars(r)["mid"]

	msg, err := a.Store.GetMessage(mid)
	if err != nil {
		writeMapped(w, err)
		return
	}
	member, err := a.Guard.IsMember(msg.Conversation, uid)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if !member {
		writeMapped(w, models.ErrUnauthorized)
		return
	}

	var body receiptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	updated, err := a.Store.SetReceipt(mid, body.Delivered, body.Read)
	if err != nil {
		writeMapped(w, err)
		return
	}
	logger.Debug("receipt_set", "msg", mid, "delivered", updated.IsDelivered, "read", updated.IsRead)
	_ = json.NewEncoder(w).Encode(updated)
}
