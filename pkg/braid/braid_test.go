package braid

import (
	"errors"
	"strings"
	"testing"

	"chatsync/pkg/models"
)

func TestParseList(t *testing.T) {
	got, err := ParseList(`"a1b2", "c3d4"`)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(got) != 2 || got[0] != "a1b2" || got[1] != "c3d4" {
		t.Fatalf("ParseList = %v", got)
	}

	if got, err := ParseList(""); err != nil || got != nil {
		t.Fatalf("empty header: %v %v", got, err)
	}
	if got, err := ParseList("  ,  "); err != nil || len(got) != 0 {
		t.Fatalf("blank items: %v %v", got, err)
	}

	// unquoted items are tolerated
	got, err = ParseList("bare-id")
	if err != nil || len(got) != 1 || got[0] != "bare-id" {
		t.Fatalf("unquoted item: %v %v", got, err)
	}

	if _, err := ParseList(`"` + strings.Repeat("x", 500) + `"`); err == nil {
		t.Fatalf("oversize id accepted")
	}
	if _, err := ParseList("\"a\rb\""); err == nil {
		t.Fatalf("control characters accepted")
	}
}

func TestFormatList(t *testing.T) {
	if s := FormatList([]string{"a", "b"}); s != `"a", "b"` {
		t.Fatalf("FormatList = %q", s)
	}
	if s := FormatItem("v1"); s != `"v1"` {
		t.Fatalf("FormatItem = %q", s)
	}
	round, err := ParseList(FormatList([]string{"p1", "p2"}))
	if err != nil || len(round) != 2 || round[0] != "p1" || round[1] != "p2" {
		t.Fatalf("round trip = %v %v", round, err)
	}
}

type fakeIndex struct {
	committed map[string]bool
}

func (f fakeIndex) HasVersion(cid, version string) (bool, error) {
	return f.committed[cid+"/"+version], nil
}

func TestStampValidParents(t *testing.T) {
	tr := NewTracker(fakeIndex{committed: map[string]bool{"c1/p1": true, "c1/p2": true}})
	v, parents, err := tr.Stamp("c1", "v-new", []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	if v != "v-new" {
		t.Fatalf("claimed version replaced: %q", v)
	}
	if len(parents) != 2 {
		t.Fatalf("parents = %v", parents)
	}
}

func TestStampStaleParent(t *testing.T) {
	tr := NewTracker(fakeIndex{committed: map[string]bool{"c1/p1": true}})
	_, _, err := tr.Stamp("c1", "", []string{"p1", "ghost"})
	if !errors.Is(err, models.ErrStaleParent) {
		t.Fatalf("expected stale parent, got %v", err)
	}
	// same parent in a different conversation is stale too
	_, _, err = tr.Stamp("c2", "", []string{"p1"})
	if !errors.Is(err, models.ErrStaleParent) {
		t.Fatalf("cross-conversation parent accepted: %v", err)
	}
}

func TestStampMintsVersion(t *testing.T) {
	tr := NewTracker(fakeIndex{committed: map[string]bool{"c1/taken": true}})
	v, _, err := tr.Stamp("c1", "", nil)
	if err != nil || v == "" {
		t.Fatalf("no version minted: %q %v", v, err)
	}
	// a taken version id is replaced with a fresh one
	v2, _, err := tr.Stamp("c1", "taken", nil)
	if err != nil {
		t.Fatalf("Stamp taken: %v", err)
	}
	if v2 == "taken" || v2 == "" {
		t.Fatalf("taken version id kept: %q", v2)
	}
}
