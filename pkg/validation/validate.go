package validation

import (
	"errors"
	"fmt"
	"strings"

	"chatsync/pkg/models"
)

// Rules bound message fields. Zero values fall back to the defaults
// below, which match the limits the protocol was designed around.
type Rules struct {
	MaxContentLen int
	MaxSenderLen  int
}

const (
	defaultMaxContentLen = 10000
	defaultMaxSenderLen  = 100
	maxIDLen             = 128
)

var rules Rules

// SetRules installs the validation rules derived from config.
func SetRules(r Rules) { rules = r }

func (r Rules) maxContent() int {
	if r.MaxContentLen > 0 {
		return r.MaxContentLen
	}
	return defaultMaxContentLen
}

func (r Rules) maxSender() int {
	if r.MaxSenderLen > 0 {
		return r.MaxSenderLen
	}
	return defaultMaxSenderLen
}

// ValidateID checks an externally supplied identifier against the
// store key grammar. Ids land in ':'-delimited keys, so a ':' (or a
// control character) would let one id masquerade as another row's key.
func ValidateID(field, id string) error {
	if id == "" {
		return errors.New(field + " is required")
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s too long (max %d)", field, maxIDLen)
	}
	for _, r := range id {
		if r == ':' || r < 0x20 || r == 0x7f {
			return fmt.Errorf("%s contains reserved characters", field)
		}
	}
	return nil
}

// ValidateMessage checks an incoming message before it reaches the
// append engine.
func ValidateMessage(m models.Message) error {
	var errs []string
	if err := ValidateID("id", m.ID); err != nil {
		errs = append(errs, err.Error())
	}
	if err := ValidateID("conversation_id", m.Conversation); err != nil {
		errs = append(errs, err.Error())
	}
	if m.Sender == "" {
		errs = append(errs, "sender_id is required")
	} else if len(m.Sender) > rules.maxSender() {
		errs = append(errs, fmt.Sprintf("sender_id too long (max %d)", rules.maxSender()))
	}
	if strings.TrimSpace(m.Content) == "" && m.Kind != models.KindSystem {
		errs = append(errs, "content is required")
	}
	if len(m.Content) > rules.maxContent() {
		errs = append(errs, fmt.Sprintf("content too long (max %d)", rules.maxContent()))
	}
	if m.Kind != "" && !models.ValidKind(m.Kind) {
		errs = append(errs, fmt.Sprintf("unknown kind: %s", m.Kind))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
