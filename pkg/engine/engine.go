// Package engine serializes message appends per conversation and drives
// the commit pipeline: membership check, duplicate detection, version
// stamping, logical timestamp assignment, durable commit, fan-out.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/pkg/auth"
	"chatsync/pkg/braid"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/validation"
)

// Publisher receives committed messages in commit order. Sends must not
// block; the engine calls Publish while holding the conversation lock.
type Publisher interface {
	Publish(msg models.Message)
}

// AppendRequest carries one message append. Version and Parents are the
// client-claimed braid coordinates; both may be empty for a message with
// no causal predecessors.
type AppendRequest struct {
	Conversation string
	MessageID    string
	Sender       string
	Content      string
	Kind         models.MessageKind
	Version      string
	Parents      []string
}

type Engine struct {
	store   *store.Store
	guard   *auth.Guard
	tracker *braid.Tracker
	pub     Publisher
	timeout time.Duration

	locks keyedMutex

	mu     sync.Mutex
	lastTS map[string]int64
}

func New(st *store.Store, guard *auth.Guard, tracker *braid.Tracker, pub Publisher, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		store:   st,
		guard:   guard,
		tracker: tracker,
		pub:     pub,
		timeout: timeout,
		lastTS:  make(map[string]int64),
	}
}

// Append commits one message. It is idempotent on message id: a retry of
// an already-committed message returns the stored copy unchanged and is
// not re-published. Returned errors wrap the models sentinel that maps to
// the HTTP status for this failure.
func (e *Engine) Append(ctx context.Context, req AppendRequest) (models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	msg := models.Message{
		ID:           req.MessageID,
		Conversation: req.Conversation,
		Sender:       req.Sender,
		Content:      req.Content,
		Kind:         req.Kind,
	}
	if err := validation.ValidateMessage(msg); err != nil {
		telemetry.AppendErrorTotal.WithLabelValues("invalid").Inc()
		return models.Message{}, err
	}

	release, err := e.locks.Acquire(ctx, req.Conversation)
	if err != nil {
		telemetry.AppendErrorTotal.WithLabelValues("timeout").Inc()
		return models.Message{}, err
	}
	defer release()

	ok, err := e.guard.IsMember(req.Conversation, req.Sender)
	if err != nil {
		telemetry.AppendErrorTotal.WithLabelValues(reason(err)).Inc()
		return models.Message{}, err
	}
	if !ok {
		telemetry.AppendErrorTotal.WithLabelValues("forbidden").Inc()
		return models.Message{}, models.ErrUnauthorized
	}

	if prior, err := e.store.GetMessage(req.MessageID); err == nil {
		// Only a retry within the same conversation replays; the id
		// belonging to another conversation is a conflict, returning
		// it would cross the membership boundary.
		if prior.Conversation != req.Conversation {
			telemetry.AppendErrorTotal.WithLabelValues("id_taken").Inc()
			return models.Message{}, models.ErrMessageIDTaken
		}
		telemetry.AppendDuplicateTotal.Inc()
		logger.Debug("append_duplicate", "msg", req.MessageID, "conversation", req.Conversation)
		return prior, nil
	} else if !errors.Is(err, models.ErrMessageNotFound) {
		telemetry.AppendErrorTotal.WithLabelValues("storage").Inc()
		return models.Message{}, err
	}

	version, parents, err := e.tracker.Stamp(req.Conversation, req.Version, req.Parents)
	if err != nil {
		telemetry.AppendErrorTotal.WithLabelValues(reason(err)).Inc()
		return models.Message{}, err
	}
	msg.Version = version
	msg.Parents = parents

	lts, err := e.nextLogicalTS(req.Conversation)
	if err != nil {
		telemetry.AppendErrorTotal.WithLabelValues("storage").Inc()
		return models.Message{}, err
	}
	msg.LogicalTS = lts
	msg.TS = time.Now().UnixNano()

	committed, dup, err := e.store.CommitMessage(msg)
	if err != nil {
		telemetry.AppendErrorTotal.WithLabelValues("storage").Inc()
		return models.Message{}, err
	}
	if dup {
		telemetry.AppendDuplicateTotal.Inc()
		return committed, nil
	}

	telemetry.AppendTotal.Inc()
	if e.pub != nil {
		// Publishing before release keeps fan-out in commit order.
		e.pub.Publish(committed)
	}
	return committed, nil
}

// nextLogicalTS returns a value strictly greater than every timestamp
// committed to the conversation so far. Callers hold the conversation
// lock, so the read-increment pair is race-free.
func (e *Engine) nextLogicalTS(cid string) (int64, error) {
	e.mu.Lock()
	cached, ok := e.lastTS[cid]
	e.mu.Unlock()
	if !ok {
		stored, err := e.store.LastLogicalTS(cid)
		if err != nil {
			return 0, err
		}
		cached = stored
	}
	next := cached + 1
	e.mu.Lock()
	e.lastTS[cid] = next
	e.mu.Unlock()
	return next, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, models.ErrStaleParent):
		return "stale_parent"
	case errors.Is(err, models.ErrMessageIDTaken):
		return "id_taken"
	case errors.Is(err, models.ErrConversationNotFound):
		return "not_found"
	case errors.Is(err, models.ErrUnauthorized):
		return "forbidden"
	case errors.Is(err, models.ErrStorageUnavailable):
		return "storage"
	default:
		return "internal"
	}
}
