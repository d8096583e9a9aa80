package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sebastian-lehto/micromanager-agent/internal/msgstore"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
	"github.com/sebastian-lehto/micromanager-agent/internal/workplan"
)

const (
	testServerToken = "server-secret"
	testJWTSecret   = "jwt-secret"
)

type fakeExecutor struct {
	result workflow.Result
	err    error
	calls  int
}

func (f *fakeExecutor) Run(ctx context.Context, req workflow.Request) (workflow.Result, error) {
	f.calls++
	return f.result, f.err
}

func testService(t *testing.T, exec workflow.Executor) (*Service, *msgstore.Store) {
	t.Helper()
	cfg := msgstore.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "test.sqlite")
	store, err := msgstore.Open(cfg)
	if err != nil {
		t.Fatalf("msgstore.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc := New(Config{
		ServerToken: testServerToken,
		JWTSecret:   testJWTSecret,
	}, store, exec, NewPlanner(NewSampleEventSource()), nil)
	return svc, store
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func userJWT(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}

func TestChat_MissingUserIDRejected(t *testing.T) {
	svc, _ := testService(t, &fakeExecutor{})
	rec := doJSON(t, svc.Handler(), http.MethodPost, "/api/telegram/chat", testServerToken,
		map[string]string{"message": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChat_MissingMessageRejected(t *testing.T) {
	svc, _ := testService(t, &fakeExecutor{})
	rec := doJSON(t, svc.Handler(), http.MethodPost, "/api/telegram/chat", testServerToken,
		map[string]string{"userId": "u1", "message": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChat_BadBearerPersistsNothing(t *testing.T) {
	exec := &fakeExecutor{}
	svc, store := testService(t, exec)
	rec := doJSON(t, svc.Handler(), http.MethodPost, "/api/telegram/chat", "wrong-token",
		map[string]string{"message": "hi", "userId": "u1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if exec.calls != 0 {
		t.Fatalf("executor calls = %d, want 0", exec.calls)
	}
	n, err := store.CountMessages(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("persisted messages = %d, want 0", n)
	}
}

func TestChat_MissingAuthorizationHeaderRejected(t *testing.T) {
	svc, _ := testService(t, &fakeExecutor{})
	rec := doJSON(t, svc.Handler(), http.MethodPost, "/api/telegram/chat", "",
		map[string]string{"message": "hi", "userId": "u1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestChat_HappyPathPersistsBothMessagesInOrder(t *testing.T) {
	exec := &fakeExecutor{result: workflow.Result{OutputText: "hello", Tokens: 17}}
	svc, store := testService(t, exec)

	rec := doJSON(t, svc.Handler(), http.MethodPost, "/api/telegram/chat", testServerToken,
		map[string]string{"message": "hi", "userId": "u1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Response != "hello" || resp.Error {
		t.Fatalf("response = %+v, want {hello false}", resp)
	}

	msgs, err := store.ListMessages(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi" || msgs[0].Source != "telegram-user" {
		t.Fatalf("first message = %+v, want inbound user message", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "hello" || msgs[1].Source != "micromanager" {
		t.Fatalf("second message = %+v, want outbound assistant message", msgs[1])
	}
	if msgs[1].Tokens != 17 {
		t.Fatalf("outbound tokens = %d, want 17", msgs[1].Tokens)
	}
}

func TestChat_WorkflowFailureKeepsInboundMessage(t *testing.T) {
	exec := &fakeExecutor{err: fmt.Errorf("engine down")}
	svc, store := testService(t, exec)

	rec := doJSON(t, svc.Handler(), http.MethodPost, "/api/telegram/chat", testServerToken,
		map[string]string{"message": "hi", "userId": "u1"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("engine down")) {
		t.Fatalf("response leaked internal error detail: %s", rec.Body.String())
	}

	msgs, err := store.ListMessages(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("persisted messages = %+v, want only the inbound user message", msgs)
	}
}

func TestChat_UserJWTBindsUserID(t *testing.T) {
	exec := &fakeExecutor{result: workflow.Result{OutputText: "ok"}}
	svc, store := testService(t, exec)

	// Body names another user; the JWT subject wins.
	rec := doJSON(t, svc.Handler(), http.MethodPost, "/api/telegram/chat", userJWT(t, "jwt-user"),
		map[string]string{"message": "hi", "userId": "someone-else"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	msgs, err := store.ListMessages(context.Background(), "jwt-user")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages for jwt-user = %d, want 2", len(msgs))
	}
}

func TestVerifierChain(t *testing.T) {
	chain := verifierChain{
		serverTokenVerifier{token: testServerToken},
		userJWTVerifier{secret: []byte(testJWTSecret)},
	}
	cases := []struct {
		name    string
		token   string
		wantErr bool
		user    string
		server  bool
	}{
		{name: "server token", token: testServerToken, server: true},
		{name: "garbage", token: "nope", wantErr: true},
		{name: "empty", token: "", wantErr: true},
	}
	for _, tc := range cases {
		id, err := chain.Verify(tc.token)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: Verify() error = nil, want ErrUnauthorized", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: Verify() error = %v", tc.name, err)
		}
		if id.ServerToken != tc.server || id.UserID != tc.user {
			t.Fatalf("%s: Verify() = %+v", tc.name, id)
		}
	}
}

func TestUserJWTVerifier(t *testing.T) {
	v := userJWTVerifier{secret: []byte(testJWTSecret)}

	id, err := v.Verify(userJWT(t, "u9"))
	if err != nil {
		t.Fatalf("Verify(valid) error = %v", err)
	}
	if id.UserID != "u9" {
		t.Fatalf("Verify(valid).UserID = %q, want u9", id.UserID)
	}

	// Missing subject fails closed.
	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	signed, _ := noSub.SignedString([]byte(testJWTSecret))
	if _, err := v.Verify(signed); err == nil {
		t.Fatalf("Verify(no sub) error = nil, want ErrUnauthorized")
	}

	// Wrong secret fails closed.
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u9"})
	signed, _ = other.SignedString([]byte("different-secret"))
	if _, err := v.Verify(signed); err == nil {
		t.Fatalf("Verify(wrong secret) error = nil, want ErrUnauthorized")
	}
}

func TestHistory_AscendingAndWrapped(t *testing.T) {
	exec := &fakeExecutor{result: workflow.Result{OutputText: "r"}}
	svc, store := testService(t, exec)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, content := range []string{"a", "b"} {
		_ = store.CreateMessage(context.Background(), &msgstore.Message{
			UserID: "u1", Role: "user", Content: content, Source: "telegram-user",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	rec := doJSON(t, svc.Handler(), http.MethodGet, "/api/telegram/chat/history?userId=u1", testServerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].Content != "a" || resp.Messages[1].Content != "b" {
		t.Fatalf("history = %+v, want [a b]", resp.Messages)
	}
}

func TestUsageAndProfile(t *testing.T) {
	svc, _ := testService(t, &fakeExecutor{})

	rec := doJSON(t, svc.Handler(), http.MethodPost, "/api/user/usage?userId=u1", testServerToken,
		usageRequest{Tokens: 120, Messages: 2})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("usage status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec = doJSON(t, svc.Handler(), http.MethodPost, "/api/user/usage?userId=u1", testServerToken,
		usageRequest{Tokens: 80, Messages: 1})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("usage status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = doJSON(t, svc.Handler(), http.MethodGet, "/api/user/profile?userId=u1", testServerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d, want %d", rec.Code, http.StatusOK)
	}
	var prof profileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &prof); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if prof.Tier != "free" {
		t.Fatalf("profile tier = %q, want default free", prof.Tier)
	}
	if prof.Tokens != 200 || prof.Messages != 3 {
		t.Fatalf("profile totals = (%d, %d), want (200, 3)", prof.Tokens, prof.Messages)
	}
}

func TestWorkflowRuns_ReflectsFinishedRun(t *testing.T) {
	exec := &fakeExecutor{result: workflow.Result{
		OutputText: "done",
		ToolCalls: map[string]workflow.ToolCallRecord{
			"c1": {Name: "calendar_lookup", Status: workflow.ToolCallSuccess},
		},
	}}
	svc, _ := testService(t, exec)

	doJSON(t, svc.Handler(), http.MethodPost, "/api/telegram/chat", testServerToken,
		map[string]string{"message": "hi", "userId": "u1"})

	rec := doJSON(t, svc.Handler(), http.MethodGet, "/api/user/workflow-runs", testServerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var snap workflow.RunSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Current != nil {
		t.Fatalf("current = %+v, want nil after run finished", snap.Current)
	}
	if snap.Previous == nil || len(snap.Previous.ToolCalls) != 1 {
		t.Fatalf("previous = %+v, want finished run with one tool call", snap.Previous)
	}
}

func TestWorkplans_ListAndRegenerate(t *testing.T) {
	svc, _ := testService(t, &fakeExecutor{})

	rec := doJSON(t, svc.Handler(), http.MethodGet, "/api/workplan?days=7&limit=5", testServerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rec.Code, http.StatusOK)
	}
	var list workplansResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode workplans: %v", err)
	}
	if len(list.Workplans) == 0 {
		t.Fatalf("workplans empty, want sample entries within the window")
	}
	for _, entry := range list.Workplans {
		if entry.Status != workplan.StatusReady || len(entry.Steps) == 0 {
			t.Fatalf("entry = %+v, want ready with steps", entry)
		}
	}

	target := list.Workplans[0]
	rec = doJSON(t, svc.Handler(), http.MethodPost, "/api/workplan/regenerate", testServerToken,
		regenerateRequest{Event: target.Event, UserRole: " Lead "})
	if rec.Code != http.StatusOK {
		t.Fatalf("regenerate status = %d, want %d", rec.Code, http.StatusOK)
	}
	var entry workplan.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Role != "Lead" {
		t.Fatalf("regenerated role = %q, want normalized Lead", entry.Role)
	}
	if entry.Event.ID != target.Event.ID {
		t.Fatalf("regenerated event id = %q, want %q", entry.Event.ID, target.Event.ID)
	}

	// The regenerated role survives the next listing.
	rec = doJSON(t, svc.Handler(), http.MethodGet, "/api/workplan", testServerToken, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode workplans: %v", err)
	}
	found := false
	for _, e := range list.Workplans {
		if e.Event.ID == target.Event.ID {
			found = true
			if e.Role != "Lead" {
				t.Fatalf("role after regenerate = %q, want Lead", e.Role)
			}
		}
	}
	if !found {
		t.Fatalf("regenerated event %q missing from listing", target.Event.ID)
	}
}

func TestHealthzUnauthenticated(t *testing.T) {
	svc, _ := testService(t, &fakeExecutor{})
	rec := doJSON(t, svc.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
}
