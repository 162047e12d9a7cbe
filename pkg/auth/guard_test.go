package auth

import (
	"errors"
	"testing"

	"chatsync/pkg/models"
)

type fakeMembers struct {
	convs   map[string]models.Conversation
	members map[string]bool
}

func (f fakeMembers) GetConversation(cid string) (models.Conversation, error) {
	c, ok := f.convs[cid]
	if !ok {
		return models.Conversation{}, models.ErrConversationNotFound
	}
	return c, nil
}

func (f fakeMembers) IsParticipant(cid, uid string) (bool, error) {
	return f.members[cid+"/"+uid], nil
}

func TestGuardIsMember(t *testing.T) {
	fm := fakeMembers{
		convs: map[string]models.Conversation{
			"c1":   {ID: "c1"},
			"dead": {ID: "dead", Deleted: true},
		},
		members: map[string]bool{"c1/alice": true},
	}
	g := NewGuard(fm, false)

	ok, err := g.IsMember("c1", "alice")
	if err != nil || !ok {
		t.Fatalf("member check: ok=%v err=%v", ok, err)
	}
	ok, err = g.IsMember("c1", "mallory")
	if err != nil || ok {
		t.Fatalf("outsider check: ok=%v err=%v", ok, err)
	}
	if _, err := g.IsMember("ghost", "alice"); !errors.Is(err, models.ErrConversationNotFound) {
		t.Fatalf("missing conversation: %v", err)
	}
	// soft-deleted conversations are invisible
	if _, err := g.IsMember("dead", "alice"); !errors.Is(err, models.ErrConversationNotFound) {
		t.Fatalf("deleted conversation: %v", err)
	}
}

func TestGuardBypass(t *testing.T) {
	fm := fakeMembers{convs: map[string]models.Conversation{"c1": {ID: "c1"}}}
	g := NewGuard(fm, true)
	if !g.Bypassed() {
		t.Fatalf("Bypassed() = false")
	}
	ok, err := g.IsMember("c1", "anyone")
	if err != nil || !ok {
		t.Fatalf("bypass member check: ok=%v err=%v", ok, err)
	}
	// even bypass cannot see a conversation that does not exist
	if _, err := g.IsMember("ghost", "anyone"); !errors.Is(err, models.ErrConversationNotFound) {
		t.Fatalf("bypass missing conversation: %v", err)
	}
}
