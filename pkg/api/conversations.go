package api

import (
	"encoding/json"
	"net/http"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"

	"github.com/gorilla/mux"
)

type createConversationBody struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name,omitempty"`
	IsDirect     bool     `json:"is_direct,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// createConversation persists a new conversation with the caller as
// creator and first participant.
func (a *API) createConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	var body createConversationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	now := time.Now().UTC().UnixNano()
	c := models.Conversation{
		ID:        body.ID,
		Creator:   uid,
		Name:      body.Name,
		IsDirect:  body.IsDirect,
		CreatedTS: now,
		UpdatedTS: now,
	}
	if c.ID == "" {
		c.ID = utils.GenConversationID()
	} else if err := validation.ValidateID("id", c.ID); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	members := append([]string{uid}, body.Participants...)
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m == "" {
			continue
		}
		if err := validation.ValidateID("participant", m); err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		seen[m] = struct{}{}
	}
	if c.IsDirect && len(seen) != 2 {
		http.Error(w, `{"error":"direct conversations require exactly two participants"}`, http.StatusBadRequest)
		return
	}
	if err := a.Store.CreateConversation(c); err != nil {
		writeMapped(w, err)
		return
	}
	for m := range seen {
		if err := a.Store.AddParticipant(models.Participant{Conversation: c.ID, User: m, JoinedTS: now}); err != nil {
			writeMapped(w, err)
			return
		}
	}
	logger.Info("conversation_created", "conversation", c.ID, "creator", uid, "participants", len(seen))
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(c)
}

// listConversations returns the conversations the caller participates in.
func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	all, err := a.Store.ListConversations()
	if err != nil {
		writeMapped(w, err)
		return
	}
	out := make([]models.Conversation, 0, len(all))
	for _, c := range all {
		if c.Deleted {
			continue
		}
		member, err := a.Store.IsParticipant(c.ID, uid)
		if err != nil {
			writeMapped(w, err)
			return
		}
		if member || a.Guard.Bypassed() {
			out = append(out, c)
		}
	}
	_ = json.NewEncoder(w).Encode(struct {
		Conversations []models.Conversation `json:"conversations"`
	}{Conversations: out})
}

func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
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
	c, err := a.Store.GetConversation(cid)
	if err != nil {
		writeMapped(w, err)
		return
	}
	parts, err := a.Store.ListParticipants(cid)
	if err != nil {
		writeMapped(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		models.Conversation
		Participants []models.Participant `json:"participants"`
	}{Conversation: c, Participants: parts})
}

// deleteConversation soft-deletes. Only the creator may delete; the
// retention sweep purges rows after the grace period.
func (a *API) deleteConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	cid := mux.Vars(r)["cid"]
	c, err := a.Store.GetConversation(cid)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if c.Creator != uid && !a.Guard.Bypassed() {
		writeMapped(w, models.ErrUnauthorized)
		return
	}
	if err := a.Store.SoftDeleteConversation(cid); err != nil {
		writeMapped(w, err)
		return
	}
	a.Hub.CloseConversation(cid)
	logger.Info("conversation_deleted", "conversation", cid, "by", uid)
	w.WriteHeader(http.StatusNoContent)
}

type participantBody struct {
	UserID string `json:"user_id"`
}

// addParticipant grants a user access. Any current member may invite.
func (a *API) addParticipant(w http.ResponseWriter, r *http.Request) {
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
	c, err := a.Store.GetConversation(cid)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if c.IsDirect {
		http.Error(w, `{"error":"direct conversations have a fixed pair of participants"}`, http.StatusBadRequest)
		return
	}
	var body participantBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, `{"error":"user_id required"}`, http.StatusBadRequest)
		return
	}
	if err := validation.ValidateID("user_id", body.UserID); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	p := models.Participant{Conversation: cid, User: body.UserID, JoinedTS: time.Now().UTC().UnixNano()}
	if err := a.Store.AddParticipant(p); err != nil {
		writeMapped(w, err)
		return
	}
	logger.Info("participant_added", "conversation", cid, "user", body.UserID, "by", uid)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(p)
}

// removeParticipant revokes access and drops the user's live
// subscriptions. A member may remove themselves; otherwise only the
// creator may remove.
func (a *API) removeParticipant(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	cid, target := vars["cid"], vars["uid"]
	c, err := a.Store.GetConversation(cid)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if uid != target && uid != c.Creator && !a.Guard.Bypassed() {
		writeMapped(w, models.ErrUnauthorized)
		return
	}
	if err := a.Store.RemoveParticipant(cid, target); err != nil {
		writeMapped(w, err)
		return
	}
	a.Hub.Kick(cid, target)
	logger.Info("participant_removed", "conversation", cid, "user", target, "by", uid)
	w.WriteHeader(http.StatusNoContent)
}
