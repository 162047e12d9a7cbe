package models

import "errors"

// Typed failures surfaced by the append and subscribe paths. Handlers
// map these to HTTP statuses; nothing below the request boundary logs
// and swallows them.
var (
	// ErrUnauthorized: caller is not a participant of the conversation.
	ErrUnauthorized = errors.New("not a conversation participant")
	// ErrConversationNotFound: the conversation row does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound: no committed message with the given id.
	ErrMessageNotFound = errors.New("message not found")
	// ErrStaleParent: a claimed parent version is unknown to the
	// conversation; client must retry with fresh heads.
	ErrStaleParent = errors.New("claimed parent version not committed")
	// ErrMessageIDTaken: the message id is already committed to a
	// different conversation. Ids are unique across the store, so this
	// is a conflict, never an idempotent replay.
	ErrMessageIDTaken = errors.New("message id committed in another conversation")
	// ErrConversationExists: create named an id that is already in use.
	ErrConversationExists = errors.New("conversation already exists")
	// ErrStorageUnavailable: the durable store could not confirm the
	// operation; retryable by the caller.
	ErrStorageUnavailable = errors.New("durable store unavailable")
)
