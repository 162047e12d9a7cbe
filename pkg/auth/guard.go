package auth

import (
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Membership answers membership questions against the durable store.
// *store.Store satisfies it.
type Membership interface {
	GetConversation(cid string) (models.Conversation, error)
	IsParticipant(cid, uid string) (bool, error)
}

// Guard authorizes read/write access to conversations. A caller must
// hold a participant edge unless bypass mode is active.
type Guard struct {
	members Membership
	bypass  bool
}

// NewGuard builds a membership guard. bypass=true authorizes every
// caller; it exists for local testing and must never be enabled in a
// production configuration.
func NewGuard(members Membership, bypass bool) *Guard {
	if bypass {
		logger.Warn("membership_guard_bypassed")
	}
	return &Guard{members: members, bypass: bypass}
}

// Bypassed reports whether the guard is in bypass mode.
func (g *Guard) Bypassed() bool { return g.bypass }

// IsMember reports whether user may access the conversation. The
// conversation must exist: a missing conversation is
// ErrConversationNotFound, while an existing conversation without the
// membership edge yields (false, nil).
func (g *Guard) IsMember(cid, uid string) (bool, error) {
	c, err := g.members.GetConversation(cid)
	if err != nil {
		return false, err
	}
	if c.Deleted {
		return false, models.ErrConversationNotFound
	}
	if g.bypass {
		return true, nil
	}
	return g.members.IsParticipant(cid, uid)
}
