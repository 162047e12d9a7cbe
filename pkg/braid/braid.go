// Package braid tracks causal message versions in the style of the
// Braid HTTP draft: every message carries a version id and the set of
// parent versions it follows. The server validates client-claimed
// parents but never merges divergent lineages; both are retained in the
// DAG and delivered in commit order.
package braid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chatsync/pkg/models"
)

const maxVersionIDLength = 200

// NewVersion returns a fresh opaque version id.
func NewVersion() string { return uuid.NewString() }

// ParseList parses a Version or Parents header in structured-headers
// form: comma-separated JSON-stringified strings, e.g.
//
//	Parents: "a1b2", "c3d4"
//
// Unquoted items are tolerated. Empty items are dropped.
func ParseList(header string) ([]string, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(header, ",") {
		v := strings.TrimSpace(part)
		if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
			v = v[1 : len(v)-1]
		}
		if v == "" {
			continue
		}
		if len(v) > maxVersionIDLength {
			return nil, fmt.Errorf("version id too long (%d chars)", len(v))
		}
		if strings.ContainsAny(v, "\r\n\"") {
			return nil, fmt.Errorf("version id contains invalid characters")
		}
		out = append(out, v)
	}
	return out, nil
}

// FormatItem renders a single version id in structured-headers form.
func FormatItem(version string) string { return `"` + version + `"` }

// FormatList renders a list of version ids in structured-headers form.
func FormatList(versions []string) string {
	quoted := make([]string, 0, len(versions))
	for _, v := range versions {
		quoted = append(quoted, FormatItem(v))
	}
	return strings.Join(quoted, ", ")
}

// VersionIndex answers whether a version id has been committed in a
// conversation. *store.Store satisfies it.
type VersionIndex interface {
	HasVersion(conversationID, version string) (bool, error)
}

// Tracker assigns version metadata to new messages against the
// committed version DAG of each conversation.
type Tracker struct {
	idx VersionIndex
}

// NewTracker builds a Tracker over the given version index.
func NewTracker(idx VersionIndex) *Tracker { return &Tracker{idx: idx} }

// Stamp validates the client-claimed parent versions against the
// conversation's committed DAG and returns the version metadata for a
// new message. A claimed parent that was never committed in this
// conversation yields ErrStaleParent. When the client supplied no
// version id, a fresh one is generated.
func (t *Tracker) Stamp(conversationID, claimedVersion string, claimedParents []string) (version string, parents []string, err error) {
	for _, p := range claimedParents {
		ok, err := t.idx.HasVersion(conversationID, p)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", models.ErrStaleParent, p)
		}
	}
	version = claimedVersion
	if version != "" {
		// a version id must name exactly one message state; if the
		// claimed id is already taken, mint a new one
		taken, err := t.idx.HasVersion(conversationID, version)
		if err != nil {
			return "", nil, err
		}
		if taken {
			version = ""
		}
	}
	if version == "" {
		version = NewVersion()
	}
	return version, claimedParents, nil
}
