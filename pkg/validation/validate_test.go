package validation

import (
	"strings"
	"testing"

	"chatsync/pkg/models"
)

func valid() models.Message {
	return models.Message{
		ID:           "m1",
		Conversation: "c1",
		Sender:       "alice",
		Content:      "hello",
		Kind:         models.KindText,
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage(valid()); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	m := valid()
	m.ID = ""
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("missing id accepted")
	}

	m = valid()
	m.Content = "   "
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("blank content accepted")
	}

	m = valid()
	m.Content = ""
	m.Kind = models.KindSystem
	if err := ValidateMessage(m); err != nil {
		t.Fatalf("empty system message rejected: %v", err)
	}

	m = valid()
	m.Kind = models.MessageKind("carrier-pigeon")
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"c1", "room-42", "a.b_c", "user@example.com"} {
		if err := ValidateID("id", id); err != nil {
			t.Fatalf("ValidateID(%q): %v", id, err)
		}
	}
	bad := []string{
		"",
		"a:b",
		"a:msg:00000000000000000005:x",
		"line\nbreak",
		"bell\x07",
		strings.Repeat("x", maxIDLen+1),
	}
	for _, id := range bad {
		if err := ValidateID("id", id); err == nil {
			t.Fatalf("ValidateID(%q) accepted", id)
		}
	}
}

func TestValidateMessageRejectsKeyCharacters(t *testing.T) {
	m := valid()
	m.ID = "m:1"
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("id with ':' accepted")
	}
	m = valid()
	m.Conversation = "c:msg:x"
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("conversation id with ':' accepted")
	}
}

func TestValidateMessageLimits(t *testing.T) {
	SetRules(Rules{})
	t.Cleanup(func() { SetRules(Rules{}) })

	m := valid()
	m.Content = strings.Repeat("x", defaultMaxContentLen+1)
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("oversize content accepted")
	}
	m.Content = strings.Repeat("x", defaultMaxContentLen)
	if err := ValidateMessage(m); err != nil {
		t.Fatalf("content at limit rejected: %v", err)
	}

	m = valid()
	m.Sender = strings.Repeat("u", defaultMaxSenderLen+1)
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("oversize sender accepted")
	}

	SetRules(Rules{MaxContentLen: 5})
	m = valid()
	m.Content = "123456"
	if err := ValidateMessage(m); err == nil {
		t.Fatalf("configured limit ignored")
	}
}
