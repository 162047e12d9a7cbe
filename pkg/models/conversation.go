package models

type Conversation struct {
	ID string `json:"id"`
	// Creator is an opaque identity id; immutable once set
	Creator string `json:"creator"`
	Name    string `json:"name,omitempty"`
	// IsDirect fixes membership at exactly two users; enforced at
	// creation time, not re-checked afterwards
	IsDirect  bool  `json:"is_direct,omitempty"`
	CreatedTS int64 `json:"created_ts,omitempty"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// Deleted marks a conversation as soft-deleted; the retention
	// sweeper purges it (with members and messages) after a grace period
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`
}

// Participant is the membership edge between a user and a conversation.
// A user must hold one before they may read or write the conversation.
type Participant struct {
	Conversation string `json:"conversation_id"`
	User         string `json:"user_id"`
	JoinedTS     int64  `json:"joined_ts"`
}
