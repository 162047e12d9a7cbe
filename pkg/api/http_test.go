package api

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatsync/pkg/auth"
	"chatsync/pkg/braid"
	"chatsync/pkg/config"
	"chatsync/pkg/engine"
	"chatsync/pkg/fanout"
	"chatsync/pkg/models"
	"chatsync/pkg/store"

	"github.com/gorilla/mux"
)

const signSecret = "signsecret"

func signHMAC(secret, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func setupServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{},
		SigningKeys: map[string]struct{}{signSecret: {}},
	})

	guard := auth.NewGuard(st, false)
	hub := fanout.NewHub(st, 16)
	eng := engine.New(st, guard, braid.NewTracker(st), hub, 5*time.Second)
	a := &API{Store: st, Guard: guard, Engine: eng, Hub: hub, BacklogLimit: 100, KeepAlive: time.Second}

	r := mux.NewRouter()
	a.Register(r)
	srv := httptest.NewServer(auth.RequireSignedUser(false)(r))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return srv, st
}

func doAs(t *testing.T, user, method, url string, body string, hdr map[string]string) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-User-ID", user)
	req.Header.Set("X-User-Signature", signHMAC(signSecret, user))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func createConversation(t *testing.T, srv *httptest.Server, creator string, others ...string) string {
	t.Helper()
	payload := map[string]interface{}{"name": "general", "participants": others}
	b, _ := json.Marshal(payload)
	resp := doAs(t, creator, http.MethodPost, srv.URL+"/v1/conversations", string(b), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create conversation: status %d", resp.StatusCode)
	}
	var c models.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return c.ID
}

func TestAppendAndListFlow(t *testing.T) {
	srv, _ := setupServer(t)
	cid := createConversation(t, srv, "alice", "bob")

	resp := doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/m1",
		`{"content":"hello"}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put message: status %d", resp.StatusCode)
	}
	ver := resp.Header.Get("Version")
	if ver == "" || !strings.HasPrefix(ver, `"`) {
		t.Fatalf("Version response header = %q", ver)
	}
	var m1 models.Message
	if err := json.NewDecoder(resp.Body).Decode(&m1); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if m1.LogicalTS != 1 || m1.Sender != "alice" || m1.Kind != models.KindText {
		t.Fatalf("unexpected message: %+v", m1)
	}

	// causal follow-up from bob
	resp2 := doAs(t, "bob", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/m2",
		`{"content":"hey alice"}`, map[string]string{"Parents": ver})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("put follow-up: status %d", resp2.StatusCode)
	}
	var m2 models.Message
	_ = json.NewDecoder(resp2.Body).Decode(&m2)
	if len(m2.Parents) != 1 || m2.Parents[0] != m1.Version {
		t.Fatalf("follow-up parents = %v", m2.Parents)
	}

	// idempotent retry keeps the original content
	resp3 := doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/m1",
		`{"content":"mutated retry"}`, nil)
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("retry: status %d", resp3.StatusCode)
	}
	var retry models.Message
	_ = json.NewDecoder(resp3.Body).Decode(&retry)
	if retry.Content != "hello" || retry.Version != m1.Version {
		t.Fatalf("retry diverged: %+v", retry)
	}

	resp4 := doAs(t, "bob", http.MethodGet, srv.URL+"/v1/conversations/"+cid+"/messages?after=0", "", nil)
	defer resp4.Body.Close()
	var list struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp4.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Messages) != 2 || list.Messages[0].ID != "m1" || list.Messages[1].ID != "m2" {
		t.Fatalf("list = %+v", list.Messages)
	}
}

func TestAppendRejections(t *testing.T) {
	srv, _ := setupServer(t)
	cid := createConversation(t, srv, "alice")

	// non-member
	resp := doAs(t, "mallory", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/mx",
		`{"content":"let me in"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member append: status %d", resp.StatusCode)
	}

	// unknown conversation
	resp = doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/ghost/messages/mx",
		`{"content":"hi"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversation: status %d", resp.StatusCode)
	}

	// stale parent
	resp = doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/mx",
		`{"content":"hi"}`, map[string]string{"Parents": `"never-committed"`})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale parent: status %d", resp.StatusCode)
	}

	// empty content
	resp = doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/mx",
		`{"content":""}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty content: status %d", resp.StatusCode)
	}

	// unauthenticated
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/mx",
		bytes.NewReader([]byte(`{"content":"hi"}`)))
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unauthenticated request: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status %d", raw.StatusCode)
	}
}

func TestAppendConflictsOnForeignMessageID(t *testing.T) {
	srv, _ := setupServer(t)
	alices := createConversation(t, srv, "alice")
	mallorys := createConversation(t, srv, "mallory")

	resp := doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/"+alices+"/messages/m1",
		`{"content":"private to alice"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed append: status %d", resp.StatusCode)
	}

	// reusing the id from a conversation mallory cannot read must not
	// echo its content back as a replay
	resp = doAs(t, "mallory", http.MethodPut, srv.URL+"/v1/conversations/"+mallorys+"/messages/m1",
		`{"content":"fishing"}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("foreign id append: status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "private to alice") {
		t.Fatalf("foreign conversation content leaked: %s", body)
	}

	// mallory's conversation stays empty
	listResp := doAs(t, "mallory", http.MethodGet, srv.URL+"/v1/conversations/"+mallorys+"/messages", "", nil)
	defer listResp.Body.Close()
	var list struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Messages) != 0 {
		t.Fatalf("conflicting append committed: %+v", list.Messages)
	}
}

func TestCreateConversationRejectsReservedIDs(t *testing.T) {
	srv, _ := setupServer(t)

	resp := doAs(t, "alice", http.MethodPost, srv.URL+"/v1/conversations", `{"id":"a"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create a: status %d", resp.StatusCode)
	}
	putResp := doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/a/messages/m1",
		`{"content":"hello"}`, nil)
	putResp.Body.Close()

	// an id shaped like a message key would land inside a's row range
	resp = doAs(t, "mallory", http.MethodPost, srv.URL+"/v1/conversations",
		`{"id":"a:msg:00000000000000000005:x"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reserved id create: status %d", resp.StatusCode)
	}
	listResp := doAs(t, "alice", http.MethodGet, srv.URL+"/v1/conversations/a/messages", "", nil)
	defer listResp.Body.Close()
	var list struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Messages) != 1 || list.Messages[0].ID != "m1" {
		t.Fatalf("phantom rows in backlog: %+v", list.Messages)
	}

	// participants go through the same grammar
	resp = doAs(t, "alice", http.MethodPost, srv.URL+"/v1/conversations/a/participants",
		`{"user_id":"bob:member:x"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reserved participant id: status %d", resp.StatusCode)
	}

	// an already-claimed id conflicts
	resp = doAs(t, "mallory", http.MethodPost, srv.URL+"/v1/conversations", `{"id":"a"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate id create: status %d", resp.StatusCode)
	}
}

func TestReceipts(t *testing.T) {
	srv, _ := setupServer(t)
	cid := createConversation(t, srv, "alice", "bob")
	resp := doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/m1",
		`{"content":"read me"}`, nil)
	resp.Body.Close()

	resp = doAs(t, "bob", http.MethodPost, srv.URL+"/v1/messages/m1/receipts",
		`{"delivered":true,"read":true}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("receipt: status %d", resp.StatusCode)
	}
	var m models.Message
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode receipt response: %v", err)
	}
	if !m.IsDelivered || !m.IsRead {
		t.Fatalf("flags not applied: %+v", m)
	}

	// outsiders cannot acknowledge
	resp = doAs(t, "mallory", http.MethodPost, srv.URL+"/v1/messages/m1/receipts",
		`{"delivered":true}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider receipt: status %d", resp.StatusCode)
	}
}

func TestParticipantManagement(t *testing.T) {
	srv, _ := setupServer(t)
	cid := createConversation(t, srv, "alice")

	resp := doAs(t, "alice", http.MethodPost, srv.URL+"/v1/conversations/"+cid+"/participants",
		`{"user_id":"bob"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add participant: status %d", resp.StatusCode)
	}

	// bob can read now
	resp = doAs(t, "bob", http.MethodGet, srv.URL+"/v1/conversations/"+cid+"/messages", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("member list: status %d", resp.StatusCode)
	}

	// bob cannot remove alice
	resp = doAs(t, "bob", http.MethodDelete, srv.URL+"/v1/conversations/"+cid+"/participants/alice", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-creator removal: status %d", resp.StatusCode)
	}

	// creator removes bob; bob loses access
	resp = doAs(t, "alice", http.MethodDelete, srv.URL+"/v1/conversations/"+cid+"/participants/bob", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("creator removal: status %d", resp.StatusCode)
	}
	resp = doAs(t, "bob", http.MethodGet, srv.URL+"/v1/conversations/"+cid+"/messages", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("removed member still reads: status %d", resp.StatusCode)
	}
}

func TestDeleteConversation(t *testing.T) {
	srv, _ := setupServer(t)
	cid := createConversation(t, srv, "alice", "bob")

	resp := doAs(t, "bob", http.MethodDelete, srv.URL+"/v1/conversations/"+cid, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-creator delete: status %d", resp.StatusCode)
	}

	resp = doAs(t, "alice", http.MethodDelete, srv.URL+"/v1/conversations/"+cid, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("creator delete: status %d", resp.StatusCode)
	}

	// soft-deleted conversations are gone from the API
	resp = doAs(t, "alice", http.MethodGet, srv.URL+"/v1/conversations/"+cid+"/messages", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted conversation readable: status %d", resp.StatusCode)
	}
}

func readSSEData(t *testing.T, r *bufio.Reader) models.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var m models.Message
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		return m
	}
	t.Fatalf("no data event before deadline")
	return models.Message{}
}

func TestSubscribeStreamsBacklogThenLive(t *testing.T) {
	srv, _ := setupServer(t)
	cid := createConversation(t, srv, "alice", "bob")

	for _, id := range []string{"a", "b"} {
		resp := doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/"+id,
			`{"content":"msg `+id+`"}`, nil)
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/conversations/"+cid+"/subscribe?cursor=0", nil)
	req.Header.Set("X-User-ID", "bob")
	req.Header.Set("X-User-Signature", signHMAC(signSecret, "bob"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("subscribe: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	if m := readSSEData(t, rd); m.ID != "a" {
		t.Fatalf("first event = %s", m.ID)
	}
	if m := readSSEData(t, rd); m.ID != "b" {
		t.Fatalf("second event = %s", m.ID)
	}

	// a live append shows up on the open stream
	putResp := doAs(t, "alice", http.MethodPut, srv.URL+"/v1/conversations/"+cid+"/messages/c",
		`{"content":"msg c"}`, nil)
	putResp.Body.Close()
	if m := readSSEData(t, rd); m.ID != "c" {
		t.Fatalf("live event = %s", m.ID)
	}
}

func TestSubscribeRequiresMembership(t *testing.T) {
	srv, _ := setupServer(t)
	cid := createConversation(t, srv, "alice")
	resp := doAs(t, "mallory", http.MethodGet, srv.URL+"/v1/conversations/"+cid+"/subscribe", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider subscribe: status %d", resp.StatusCode)
	}
}
