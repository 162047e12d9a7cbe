// Package fanout delivers committed messages to live subscribers. A
// subscription registers with the hub before its backlog read so no
// commit can fall between replay and live delivery; messages seen in
// both are deduplicated by id.
package fanout

import (
	"sync"
	"sync/atomic"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

// Backlog is the slice of the store the hub replays from.
type Backlog interface {
	ReadRange(cid string, afterLTS int64, limit int) ([]models.Message, error)
}

type State int32

const (
	StateConnecting State = iota
	StateReplaying
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReplaying:
		return "replaying"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription is one consumer of a conversation's message flow. Read
// from C until it closes; closure means the subscription was cancelled,
// kicked, or fell too far behind, and the consumer should reconnect with
// its last seen logical timestamp as cursor.
type Subscription struct {
	conversation string
	user         string

	live  chan models.Message
	out   chan models.Message
	done  chan struct{}
	once  sync.Once
	state atomic.Int32

	hub *Hub
}

// C yields replayed then live messages in logical timestamp order.
func (s *Subscription) C() <-chan models.Message { return s.out }

func (s *Subscription) State() State { return State(s.state.Load()) }

func (s *Subscription) setState(st State) { s.state.Store(int32(st)) }

// Close detaches the subscription from the hub. Safe to call more than
// once and from any goroutine.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.setState(StateClosed)
		close(s.done)
		s.hub.remove(s.conversation, s)
	})
}

func (s *Subscription) run(backlog []models.Message) {
	defer close(s.out)
	seen := make(map[string]struct{}, len(backlog))
	var tail int64
	for _, m := range backlog {
		seen[m.ID] = struct{}{}
		tail = m.LogicalTS
		select {
		case s.out <- m:
		case <-s.done:
			return
		}
	}
	s.setState(StateLive)
	for {
		select {
		case m := <-s.live:
			if seen != nil {
				// Live delivery follows commit order, so only
				// messages at or below the replay tail can be
				// duplicates. Past the tail the map is dead weight.
				if m.LogicalTS > tail {
					seen = nil
				} else if _, dup := seen[m.ID]; dup {
					delete(seen, m.ID)
					continue
				}
			}
			select {
			case s.out <- m:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// Hub fans committed messages out to per-conversation subscriber sets.
type Hub struct {
	backlog Backlog
	buffer  int

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub(backlog Backlog, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		backlog: backlog,
		buffer:  buffer,
		subs:    make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe attaches user to cid's flow starting after cursor. The
// subscription is registered before the backlog read, so a message
// committed at any point after the call is delivered exactly once.
func (h *Hub) Subscribe(cid, user string, cursor int64) (*Subscription, error) {
	sub := &Subscription{
		conversation: cid,
		user:         user,
		live:         make(chan models.Message, h.buffer),
		out:          make(chan models.Message),
		done:         make(chan struct{}),
		hub:          h,
	}
	sub.setState(StateConnecting)

	h.mu.Lock()
	set, ok := h.subs[cid]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[cid] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	telemetry.Subscribers.Inc()

	sub.setState(StateReplaying)
	backlog, err := h.backlog.ReadRange(cid, cursor, 0)
	if err != nil {
		sub.Close()
		return nil, err
	}
	go sub.run(backlog)
	logger.Debug("fanout_subscribed", "conversation", cid, "user", user, "cursor", cursor, "backlog", len(backlog))
	return sub, nil
}

// Publish delivers msg to every subscriber of its conversation. A
// subscriber whose buffer is full is closed rather than blocking the
// append path; it will recover missed messages on reconnect.
func (h *Hub) Publish(msg models.Message) {
	h.mu.RLock()
	set := h.subs[msg.Conversation]
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.live <- msg:
			telemetry.FanoutDeliveredTotal.Inc()
		case <-sub.done:
		default:
			telemetry.FanoutDroppedTotal.Inc()
			logger.Warn("fanout_subscriber_lagging", "conversation", msg.Conversation, "user", sub.user)
			sub.Close()
		}
	}
}

// Kick closes every subscription user holds on cid. Called when the
// user's membership is revoked.
func (h *Hub) Kick(cid, user string) {
	h.mu.RLock()
	var targets []*Subscription
	for sub := range h.subs[cid] {
		if sub.user == user {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range targets {
		sub.Close()
	}
	if len(targets) > 0 {
		logger.Info("fanout_kicked", "conversation", cid, "user", user, "subscriptions", len(targets))
	}
}

// CloseConversation drops every subscriber of cid, for conversation
// deletion.
func (h *Hub) CloseConversation(cid string) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[cid]))
	for sub := range h.subs[cid] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()
	for _, sub := range targets {
		sub.Close()
	}
}

// Close drops every subscriber, for shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	var targets []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range targets {
		sub.Close()
	}
}

// Count reports live subscriptions for cid.
func (h *Hub) Count(cid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[cid])
}

func (h *Hub) remove(cid string, sub *Subscription) {
	h.mu.Lock()
	set, ok := h.subs[cid]
	if ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			telemetry.Subscribers.Dec()
		}
		if len(set) == 0 {
			delete(h.subs, cid)
		}
	}
	h.mu.Unlock()
}
