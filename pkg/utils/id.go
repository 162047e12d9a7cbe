package utils

import "github.com/google/uuid"

// GenMessageID returns a new globally unique message id.
func GenMessageID() string { return uuid.NewString() }

// GenConversationID returns a new conversation id.
func GenConversationID() string { return uuid.NewString() }
