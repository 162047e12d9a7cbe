package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Store is the durable conversation/message store backed by Pebble. It
// is constructed once at startup and shared by reference with every
// component that needs it; there is no package-level handle.
//
// Keyspace:
//
//	conv:<cid>:meta              conversation JSON
//	conv:<cid>:member:<uid>      participant JSON
//	conv:<cid>:msg:<lts %020d>   message JSON, ascending range reads
//	conv:<cid>:ver:<version>     logical_ts of the version (existence index)
//	msg:<mid>                    locator {conversation_id, logical_ts}
type Store struct {
	db   *pebble.DB
	path string

	// commitMu makes the id-uniqueness check and the batch apply one
	// step. Appends to different conversations run under different
	// engine locks, so without it two commits could both claim an id.
	commitMu sync.Mutex
	createMu sync.Mutex
}

// locator points from a message id to its row, for idempotent replay
// and the receipt path.
type locator struct {
	Conversation string `json:"conversation_id"`
	LogicalTS    int64  `json:"logical_ts"`
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_store", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("store_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("store_closed", "path", s.path)
	return err
}

// Ready reports whether the store is open.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// Health performs a trivial connectivity check. It is the hook the
// operational layer's readiness probe calls into.
func (s *Store) Health() error {
	if s == nil || s.db == nil {
		return models.ErrStorageUnavailable
	}
	_, closer, err := s.db.Get([]byte("health:probe"))
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	if closer != nil {
		_ = closer.Close()
	}
	return nil
}

func convMetaKey(cid string) []byte { return []byte("conv:" + cid + ":meta") }

func memberKey(cid, uid string) []byte { return []byte("conv:" + cid + ":member:" + uid) }

func msgKey(cid string, lts int64) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d", cid, lts))
}

func versionKey(cid, version string) []byte { return []byte("conv:" + cid + ":ver:" + version) }

func locatorKey(mid string) []byte { return []byte("msg:" + mid) }

// CommitMessage durably commits msg as a single atomic batch: the
// message row, its version index entry and its id locator become
// visible together or not at all. A second commit of the same message
// id to the same conversation is a no-op; the previously committed
// message is returned with duplicate=true. The same id in a different
// conversation fails with ErrMessageIDTaken.
func (s *Store) CommitMessage(msg models.Message) (models.Message, bool, error) {
	if s.db == nil {
		return models.Message{}, false, models.ErrStorageUnavailable
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if prev, err := s.GetMessage(msg.ID); err == nil {
		if prev.Conversation != msg.Conversation {
			logger.Warn("commit_id_taken", "msg", msg.ID, "conversation", msg.Conversation, "owner", prev.Conversation)
			return models.Message{}, false, models.ErrMessageIDTaken
		}
		logger.Info("duplicate_commit_replayed", "conversation", prev.Conversation, "msg", prev.ID)
		return prev, true, nil
	} else if !errors.Is(err, models.ErrMessageNotFound) {
		return models.Message{}, false, err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, false, fmt.Errorf("marshal message: %w", err)
	}
	loc, err := json.Marshal(locator{Conversation: msg.Conversation, LogicalTS: msg.LogicalTS})
	if err != nil {
		return models.Message{}, false, fmt.Errorf("marshal locator: %w", err)
	}

	b := s.db.NewBatch()
	defer func() { _ = b.Close() }()
	if err := b.Set(msgKey(msg.Conversation, msg.LogicalTS), data, nil); err != nil {
		return models.Message{}, false, s.storageErr("batch_set_message", err)
	}
	if err := b.Set(versionKey(msg.Conversation, msg.Version), []byte(strconv.FormatInt(msg.LogicalTS, 10)), nil); err != nil {
		return models.Message{}, false, s.storageErr("batch_set_version", err)
	}
	if err := b.Set(locatorKey(msg.ID), loc, nil); err != nil {
		return models.Message{}, false, s.storageErr("batch_set_locator", err)
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		logger.Error("commit_message_failed", "conversation", msg.Conversation, "msg", msg.ID, "error", err)
		return models.Message{}, false, fmt.Errorf("%w: commit: %v", models.ErrStorageUnavailable, err)
	}
	logger.Debug("message_committed", "conversation", msg.Conversation, "msg", msg.ID, "lts", msg.LogicalTS)
	return msg, false, nil
}

// GetMessage returns the committed message with the given id.
func (s *Store) GetMessage(mid string) (models.Message, error) {
	if s.db == nil {
		return models.Message{}, models.ErrStorageUnavailable
	}
	v, closer, err := s.db.Get(locatorKey(mid))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, models.ErrMessageNotFound
		}
		return models.Message{}, s.storageErr("get_locator", err)
	}
	var loc locator
	uerr := json.Unmarshal(v, &loc)
	_ = closer.Close()
	if uerr != nil {
		return models.Message{}, fmt.Errorf("invalid locator for %s: %w", mid, uerr)
	}

	mv, mcloser, err := s.db.Get(msgKey(loc.Conversation, loc.LogicalTS))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, models.ErrMessageNotFound
		}
		return models.Message{}, s.storageErr("get_message", err)
	}
	var m models.Message
	uerr = json.Unmarshal(mv, &m)
	_ = mcloser.Close()
	if uerr != nil {
		return models.Message{}, fmt.Errorf("invalid stored message %s: %w", mid, uerr)
	}
	return m, nil
}

// ReadRange returns messages of a conversation with logical timestamp
// strictly greater than afterLTS, ascending, at most limit entries
// (limit <= 0 means no cap). Only fully committed rows are visible;
// commits are applied as a single batch so a reader never observes a
// message without its version index.
func (s *Store) ReadRange(cid string, afterLTS int64, limit int) ([]models.Message, error) {
	if s.db == nil {
		return nil, models.ErrStorageUnavailable
	}
	if afterLTS >= math.MaxInt64 {
		return nil, nil
	}
	if afterLTS < 0 {
		afterLTS = 0
	}
	prefix := []byte("conv:" + cid + ":msg:")
	start := msgKey(cid, afterLTS+1)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, s.storageErr("new_iter", err)
	}
	defer func() { _ = iter.Close() }()

	var out []models.Message
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid stored message at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, s.storageErr("iter", err)
	}
	return out, nil
}

// HasVersion reports whether the given version id has been committed in
// the conversation.
func (s *Store) HasVersion(cid, version string) (bool, error) {
	if s.db == nil {
		return false, models.ErrStorageUnavailable
	}
	_, closer, err := s.db.Get(versionKey(cid, version))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, s.storageErr("get_version", err)
	}
	_ = closer.Close()
	return true, nil
}

// LastLogicalTS returns the highest committed logical timestamp in the
// conversation, or 0 when it has no messages.
func (s *Store) LastLogicalTS(cid string) (int64, error) {
	if s.db == nil {
		return 0, models.ErrStorageUnavailable
	}
	prefix := []byte("conv:" + cid + ":msg:")
	// upper bound: the prefix with its last byte bumped past ':'
	upper := msgKey(cid, int64(^uint64(0)>>1))
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, s.storageErr("new_iter", err)
	}
	defer func() { _ = iter.Close() }()

	if !iter.SeekLT(append(upper, 0xff)) {
		return 0, iter.Error()
	}
	if !bytes.HasPrefix(iter.Key(), prefix) {
		return 0, iter.Error()
	}
	var m models.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return 0, fmt.Errorf("invalid stored message at %s: %w", iter.Key(), err)
	}
	return m.LogicalTS, nil
}

// SetReceipt applies monotone delivered/read flags to a committed
// message. False arguments leave the corresponding flag untouched;
// true flags never revert.
func (s *Store) SetReceipt(mid string, delivered, read bool) (models.Message, error) {
	m, err := s.GetMessage(mid)
	if err != nil {
		return models.Message{}, err
	}
	if !delivered && !read {
		return m, nil
	}
	m.IsDelivered = m.IsDelivered || delivered
	m.IsRead = m.IsRead || read
	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	if err := s.db.Set(msgKey(m.Conversation, m.LogicalTS), data, pebble.Sync); err != nil {
		return models.Message{}, fmt.Errorf("%w: receipt: %v", models.ErrStorageUnavailable, err)
	}
	logger.Debug("receipt_applied", "msg", mid, "delivered", m.IsDelivered, "read", m.IsRead)
	return m, nil
}

// CreateConversation stores conversation metadata only when the id is
// unused. The check and the write serialize on createMu, so of two
// concurrent creates with the same id exactly one wins; the loser gets
// ErrConversationExists.
func (s *Store) CreateConversation(c models.Conversation) error {
	if s.db == nil {
		return models.ErrStorageUnavailable
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if _, err := s.GetConversation(c.ID); err == nil {
		return models.ErrConversationExists
	} else if !errors.Is(err, models.ErrConversationNotFound) {
		return err
	}
	return s.SaveConversation(c)
}

// SaveConversation stores conversation metadata.
func (s *Store) SaveConversation(c models.Conversation) error {
	if s.db == nil {
		return models.ErrStorageUnavailable
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := s.db.Set(convMetaKey(c.ID), data, pebble.Sync); err != nil {
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return fmt.Errorf("%w: save conversation: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// GetConversation returns conversation metadata by id.
func (s *Store) GetConversation(cid string) (models.Conversation, error) {
	if s.db == nil {
		return models.Conversation{}, models.ErrStorageUnavailable
	}
	v, closer, err := s.db.Get(convMetaKey(cid))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Conversation{}, models.ErrConversationNotFound
		}
		return models.Conversation{}, s.storageErr("get_conversation", err)
	}
	var c models.Conversation
	uerr := json.Unmarshal(v, &c)
	_ = closer.Close()
	if uerr != nil {
		return models.Conversation{}, fmt.Errorf("invalid conversation metadata %s: %w", cid, uerr)
	}
	return c, nil
}

// ListConversations returns all stored conversation metadata.
func (s *Store) ListConversations() ([]models.Conversation, error) {
	if s.db == nil {
		return nil, models.ErrStorageUnavailable
	}
	prefix := []byte("conv:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, s.storageErr("new_iter", err)
	}
	defer func() { _ = iter.Close() }()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var c models.Conversation
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// AddParticipant records a membership edge. Adding an existing edge
// overwrites it with the same content and is harmless.
func (s *Store) AddParticipant(p models.Participant) error {
	if s.db == nil {
		return models.ErrStorageUnavailable
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	if err := s.db.Set(memberKey(p.Conversation, p.User), data, pebble.Sync); err != nil {
		return fmt.Errorf("%w: add participant: %v", models.ErrStorageUnavailable, err)
	}
	logger.Info("participant_added", "conversation", p.Conversation, "user", p.User)
	return nil
}

// RemoveParticipant deletes a membership edge.
func (s *Store) RemoveParticipant(cid, uid string) error {
	if s.db == nil {
		return models.ErrStorageUnavailable
	}
	if err := s.db.Delete(memberKey(cid, uid), pebble.Sync); err != nil {
		return fmt.Errorf("%w: remove participant: %v", models.ErrStorageUnavailable, err)
	}
	logger.Info("participant_removed", "conversation", cid, "user", uid)
	return nil
}

// IsParticipant reports whether the user holds a membership edge in
// the conversation. The conversation must exist.
func (s *Store) IsParticipant(cid, uid string) (bool, error) {
	if s.db == nil {
		return false, models.ErrStorageUnavailable
	}
	_, closer, err := s.db.Get(memberKey(cid, uid))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, s.storageErr("get_member", err)
	}
	_ = closer.Close()
	return true, nil
}

// ListParticipants returns all membership edges of a conversation.
func (s *Store) ListParticipants(cid string) ([]models.Participant, error) {
	if s.db == nil {
		return nil, models.ErrStorageUnavailable
	}
	prefix := []byte("conv:" + cid + ":member:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, s.storageErr("new_iter", err)
	}
	defer func() { _ = iter.Close() }()
	var out []models.Participant
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var p models.Participant
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("invalid participant at %s: %w", iter.Key(), err)
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// SoftDeleteConversation marks the conversation deleted. Rows stay in
// place until the retention sweeper purges them.
func (s *Store) SoftDeleteConversation(cid string) error {
	c, err := s.GetConversation(cid)
	if err != nil {
		return err
	}
	if c.Deleted {
		return nil
	}
	c.Deleted = true
	c.DeletedTS = time.Now().UTC().UnixNano()
	if err := s.SaveConversation(c); err != nil {
		return err
	}
	logger.Info("conversation_soft_deleted", "conversation", cid)
	return nil
}

// PurgeConversation removes a conversation with all of its members,
// messages and index entries as one atomic batch. Returns the number
// of deleted keys.
func (s *Store) PurgeConversation(cid string) (int, error) {
	if s.db == nil {
		return 0, models.ErrStorageUnavailable
	}
	prefix := []byte("conv:" + cid + ":")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, s.storageErr("new_iter", err)
	}

	b := s.db.NewBatch()
	defer func() { _ = b.Close() }()
	deleted := 0
	msgPrefix := []byte("conv:" + cid + ":msg:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		// drop the id locator alongside the message row
		if bytes.HasPrefix(iter.Key(), msgPrefix) {
			var m models.Message
			if json.Unmarshal(iter.Value(), &m) == nil && m.ID != "" {
				if err := b.Delete(locatorKey(m.ID), nil); err != nil {
					_ = iter.Close()
					return 0, s.storageErr("batch_delete_locator", err)
				}
				deleted++
			}
		}
		k := append([]byte(nil), iter.Key()...)
		if err := b.Delete(k, nil); err != nil {
			_ = iter.Close()
			return 0, s.storageErr("batch_delete", err)
		}
		deleted++
	}
	ierr := iter.Error()
	_ = iter.Close()
	if ierr != nil {
		return 0, s.storageErr("iter", ierr)
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return 0, fmt.Errorf("%w: purge: %v", models.ErrStorageUnavailable, err)
	}
	logger.Info("conversation_purged", "conversation", cid, "keys", deleted)
	return deleted, nil
}

func (s *Store) storageErr(op string, err error) error {
	logger.Error("store_"+op+"_failed", "error", err)
	return fmt.Errorf("%w: %s: %v", models.ErrStorageUnavailable, op, err)
}
