package models

// MessageKind classifies message content.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// ValidKind reports whether k is one of the supported message kinds.
func ValidKind(k MessageKind) bool {
	switch k {
	case KindText, KindImage, KindFile, KindSystem:
		return true
	}
	return false
}

type Message struct {
	ID           string      `json:"id"`
	Conversation string      `json:"conversation_id"`
	Sender       string      `json:"sender_id"`
	Content      string      `json:"content"`
	Kind         MessageKind `json:"kind"`
	// Wall-clock send time (ns); informational, ordering uses LogicalTS
	TS int64 `json:"ts"`
	// Receipt flags are monotone: false -> true only, never reverted
	IsDelivered bool `json:"is_delivered,omitempty"`
	IsRead      bool `json:"is_read,omitempty"`
	// Version uniquely names this message's state in the version DAG
	Version string `json:"version"`
	// Parents are the version ids this message causally follows;
	// empty for the first message of a lineage
	Parents []string `json:"parents,omitempty"`
	// LogicalTS is strictly increasing per conversation and is the
	// backlog ordering key
	LogicalTS int64 `json:"logical_ts"`
}
