package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
	"github.com/nextlevelbuilder/agentgate/internal/auth"
	"github.com/nextlevelbuilder/agentgate/internal/backend"
	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/executor"
	"github.com/nextlevelbuilder/agentgate/internal/session"
	"github.com/nextlevelbuilder/agentgate/internal/task"
)

// fakeBackend replays canned reply events.
type fakeBackend struct {
	replies []backend.ReplyEvent
	askErr  error
}

func (f *fakeBackend) CreateConversation(context.Context, string) (string, error) {
	return "thread-1", nil
}

func (f *fakeBackend) Ask(ctx context.Context, _, _ string) (<-chan backend.ReplyEvent, error) {
	if f.askErr != nil {
		return nil, f.askErr
	}
	out := make(chan backend.ReplyEvent, len(f.replies))
	for _, ev := range f.replies {
		out <- ev
	}
	close(out)
	return out, nil
}

func newTestServer(remote backend.Adapter, cancel config.CancelMode) (*Server, task.Store) {
	cfg := &config.Config{
		Port:          8000,
		RemoteTimeout: 5 * time.Second,
		Cancel:        cancel,
		Eviction:      config.EvictNone,
	}
	store := task.NewMemoryStore()
	sessions := session.NewRegistry(remote)
	exec := executor.New(sessions, remote, store, cfg.RemoteTimeout, cancel)
	return New(cfg, auth.Disabled(), exec, store, sessions), store
}

func rpcBody(id any, method string, params any) string {
	raw, _ := json.Marshal(params)
	req, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  json.RawMessage(raw),
	})
	return string(req)
}

func sendParams(text, taskID, contextID string) a2a.MessageSendParams {
	return a2a.MessageSendParams{
		Message: a2a.Message{
			Kind:      "message",
			MessageID: "m1",
			Role:      "user",
			Parts:     []a2a.Part{a2a.TextPart(text)},
			TaskID:    taskID,
			ContextID: contextID,
		},
	}
}

// rpcEnvelope keeps the result raw so each test decodes its own shape.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *a2a.Error      `json:"error"`
}

func doRPC(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, rpcEnvelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	s.Handler().ServeHTTP(rec, req)

	var env rpcEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestMessageSend_CompletedTask(t *testing.T) {
	remote := &fakeBackend{replies: []backend.ReplyEvent{
		{Type: backend.EventMessage, Text: "the answer"},
	}}
	s, _ := newTestServer(remote, config.CancelReject)

	_, env := doRPC(t, s, rpcBody(1, a2a.MethodMessageSend, sendParams("question", "", "")))
	if env.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", env.Error)
	}

	var got a2a.Task
	if err := json.Unmarshal(env.Result, &got); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if got.Status.State != a2a.TaskStateCompleted {
		t.Errorf("expected completed, got %s", got.Status.State)
	}
	if got.ID == "" || got.ContextID == "" {
		t.Error("server must assign task and context ids when the client omits them")
	}
	if got.Status.Message == nil || got.Status.Message.Parts[0].Text != "the answer" {
		t.Errorf("completion should carry the reply, got %+v", got.Status.Message)
	}
}

func TestMessageSend_BackendFailureStaysInBand(t *testing.T) {
	remote := &fakeBackend{askErr: errors.New("backend exploded")}
	s, _ := newTestServer(remote, config.CancelReject)

	rec, env := doRPC(t, s, rpcBody(1, a2a.MethodMessageSend, sendParams("question", "", "")))
	if rec.Code != http.StatusOK {
		t.Fatalf("backend failures are reported on the task, got HTTP %d", rec.Code)
	}
	if env.Error != nil {
		t.Fatalf("backend failures must not become rpc errors: %+v", env.Error)
	}

	var got a2a.Task
	if err := json.Unmarshal(env.Result, &got); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if got.Status.State != a2a.TaskStateFailed {
		t.Fatalf("expected failed, got %s", got.Status.State)
	}
	if !strings.Contains(got.Status.Message.Parts[0].Text, "backend exploded") {
		t.Errorf("failure notice should embed the cause, got %q", got.Status.Message.Parts[0].Text)
	}
}

func TestMessageStream_EventSequence(t *testing.T) {
	remote := &fakeBackend{replies: []backend.ReplyEvent{
		{Type: backend.EventMessage, Text: "partial"},
	}}
	s, _ := newTestServer(remote, config.CancelReject)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		rpcBody("s1", a2a.MethodMessageStream, sendParams("question", "", ""))))
	s.Handler().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	var updates []a2a.StatusUpdateEvent
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var env rpcEnvelope
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
			t.Fatalf("decode sse frame %q: %v", line, err)
		}
		if env.ID != "s1" {
			t.Errorf("sse frame must echo the request id, got %v", env.ID)
		}
		var ev a2a.StatusUpdateEvent
		if err := json.Unmarshal(env.Result, &ev); err != nil {
			t.Fatalf("decode status update: %v", err)
		}
		updates = append(updates, ev)
	}

	want := []a2a.TaskState{
		a2a.TaskStateSubmitted,
		a2a.TaskStateWorking,
		a2a.TaskStateWorking,
		a2a.TaskStateWorking,
		a2a.TaskStateCompleted,
	}
	if len(updates) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(updates))
	}
	for i, ev := range updates {
		if ev.Status.State != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.Status.State)
		}
		if final := i == len(updates)-1; ev.Final != final {
			t.Errorf("event %d: final = %v, want %v", i, ev.Final, final)
		}
	}
}

func TestTasksGet(t *testing.T) {
	remote := &fakeBackend{replies: []backend.ReplyEvent{
		{Type: backend.EventMessage, Text: "reply"},
	}}
	s, _ := newTestServer(remote, config.CancelReject)

	_, env := doRPC(t, s, rpcBody(1, a2a.MethodMessageSend, sendParams("question", "t-get", "c1")))
	if env.Error != nil {
		t.Fatalf("seed task: %+v", env.Error)
	}

	_, env = doRPC(t, s, rpcBody(2, a2a.MethodTasksGet, a2a.TaskQueryParams{ID: "t-get"}))
	if env.Error != nil {
		t.Fatalf("tasks/get: %+v", env.Error)
	}
	var got a2a.Task
	if err := json.Unmarshal(env.Result, &got); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if got.ID != "t-get" || got.Status.State != a2a.TaskStateCompleted {
		t.Errorf("unexpected task: id=%s state=%s", got.ID, got.Status.State)
	}
	if len(got.History) < 2 {
		t.Fatalf("expected accumulated history, got %d messages", len(got.History))
	}

	// historyLength keeps only the newest messages.
	_, env = doRPC(t, s, rpcBody(3, a2a.MethodTasksGet, a2a.TaskQueryParams{ID: "t-get", HistoryLength: 1}))
	if err := json.Unmarshal(env.Result, &got); err != nil {
		t.Fatalf("decode trimmed task: %v", err)
	}
	if len(got.History) != 1 {
		t.Errorf("expected history trimmed to 1, got %d", len(got.History))
	}
}

func TestTasksGet_ConversationHistory(t *testing.T) {
	remote := &fakeBackend{replies: []backend.ReplyEvent{
		{Type: backend.EventMessage, Text: "the answer"},
	}}
	s, _ := newTestServer(remote, config.CancelReject)

	_, env := doRPC(t, s, rpcBody(1, a2a.MethodMessageSend, sendParams("question", "t-hist", "c-hist")))
	if env.Error != nil {
		t.Fatalf("seed task: %+v", env.Error)
	}

	_, env = doRPC(t, s, rpcBody(2, a2a.MethodTasksGet, a2a.TaskQueryParams{ID: "t-hist"}))
	if env.Error != nil {
		t.Fatalf("tasks/get: %+v", env.Error)
	}
	var got a2a.Task
	if err := json.Unmarshal(env.Result, &got); err != nil {
		t.Fatalf("decode task: %v", err)
	}

	raw, ok := got.Metadata["conversationHistory"].([]any)
	if !ok {
		t.Fatalf("expected conversationHistory metadata, got %+v", got.Metadata)
	}
	var log []string
	for _, m := range raw {
		log = append(log, m.(string))
	}
	if len(log) != 2 || log[0] != "question" || log[1] != "the answer" {
		t.Errorf("unexpected conversation log: %v", log)
	}
}

func TestMessageSend_TerminalTaskResubmission(t *testing.T) {
	remote := &fakeBackend{}
	s, _ := newTestServer(remote, config.CancelReject)

	_, env := doRPC(t, s, rpcBody(1, a2a.MethodMessageSend, sendParams("question", "t-fin", "c1")))
	if env.Error != nil {
		t.Fatalf("seed task: %+v", env.Error)
	}

	for _, method := range []string{a2a.MethodMessageSend, a2a.MethodMessageStream} {
		_, env = doRPC(t, s, rpcBody(2, method, sendParams("again", "t-fin", "c1")))
		if env.Error == nil || env.Error.Code != a2a.CodeTaskNotCancelable {
			t.Errorf("%s to a finished task: expected code %d, got %+v", method, a2a.CodeTaskNotCancelable, env.Error)
		}
	}
}

func TestRPC_RateLimited(t *testing.T) {
	cfg := &config.Config{
		Port:           8000,
		RemoteTimeout:  5 * time.Second,
		Cancel:         config.CancelReject,
		Eviction:       config.EvictNone,
		RateLimitRPM:   60,
		RateLimitBurst: 1,
	}
	remote := &fakeBackend{}
	store := task.NewMemoryStore()
	sessions := session.NewRegistry(remote)
	exec := executor.New(sessions, remote, store, cfg.RemoteTimeout, cfg.Cancel)
	s := New(cfg, auth.Disabled(), exec, store, sessions)
	h := s.Handler()

	body := rpcBody(1, a2a.MethodTasksGet, a2a.TaskQueryParams{ID: "whatever"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After: got %q, want %q", got, "60")
	}
	if !strings.Contains(rec.Body.String(), "TooManyRequests") {
		t.Errorf("429 body should name the error, got %q", rec.Body.String())
	}
}

func TestRPC_RateLimitKeyedByCredential(t *testing.T) {
	cfg := &config.Config{
		Port:           8000,
		RemoteTimeout:  5 * time.Second,
		Cancel:         config.CancelReject,
		Eviction:       config.EvictNone,
		RateLimitRPM:   60,
		RateLimitBurst: 1,
	}
	remote := &fakeBackend{}
	store := task.NewMemoryStore()
	sessions := session.NewRegistry(remote)
	exec := executor.New(sessions, remote, store, cfg.RemoteTimeout, cfg.Cancel)
	s := New(cfg, auth.Disabled(), exec, store, sessions)
	h := s.Handler()

	body := rpcBody(1, a2a.MethodTasksGet, a2a.TaskQueryParams{ID: "whatever"})

	// Same credential from two different source addresses shares one bucket.
	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.RemoteAddr = addr
		req = req.WithContext(auth.WithCredential(req.Context(), "caller-token"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("10.0.0.1:1111"); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
	if code := send("10.0.0.2:2222"); code != http.StatusTooManyRequests {
		t.Errorf("same credential, new address: expected 429, got %d", code)
	}
}

func TestTasksGet_Unknown(t *testing.T) {
	s, _ := newTestServer(&fakeBackend{}, config.CancelReject)

	_, env := doRPC(t, s, rpcBody(1, a2a.MethodTasksGet, a2a.TaskQueryParams{ID: "missing"}))
	if env.Error == nil || env.Error.Code != a2a.CodeTaskNotFound {
		t.Errorf("expected code %d, got %+v", a2a.CodeTaskNotFound, env.Error)
	}
}

func TestTasksCancel_Rejected(t *testing.T) {
	s, _ := newTestServer(&fakeBackend{}, config.CancelReject)

	_, env := doRPC(t, s, rpcBody(1, a2a.MethodMessageSend, sendParams("question", "t-c", "c1")))
	if env.Error != nil {
		t.Fatalf("seed task: %+v", env.Error)
	}

	_, env = doRPC(t, s, rpcBody(2, a2a.MethodTasksCancel, a2a.TaskIDParams{ID: "t-c"}))
	if env.Error == nil || env.Error.Code != a2a.CodeUnsupportedOperation {
		t.Fatalf("expected code %d, got %+v", a2a.CodeUnsupportedOperation, env.Error)
	}
	if env.Error.Message != "This operation is not supported" {
		t.Errorf("unexpected message %q", env.Error.Message)
	}
}

func TestTasksCancel_ForceFail(t *testing.T) {
	s, store := newTestServer(&fakeBackend{}, config.CancelForceFail)

	seed := a2a.NewTask("t-c", "c1")
	seed.Status.State = a2a.TaskStateWorking
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	_, env := doRPC(t, s, rpcBody(1, a2a.MethodTasksCancel, a2a.TaskIDParams{ID: "t-c"}))
	if env.Error != nil {
		t.Fatalf("tasks/cancel: %+v", env.Error)
	}
	var got a2a.Task
	if err := json.Unmarshal(env.Result, &got); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if got.Status.State != a2a.TaskStateFailed {
		t.Errorf("expected failed, got %s", got.Status.State)
	}
	if got.Status.Message.Parts[0].Text != "Task cancelled by user" {
		t.Errorf("unexpected cancellation notice %q", got.Status.Message.Parts[0].Text)
	}
}

func TestTasksCancel_Terminal(t *testing.T) {
	remote := &fakeBackend{}
	s, _ := newTestServer(remote, config.CancelForceFail)

	_, env := doRPC(t, s, rpcBody(1, a2a.MethodMessageSend, sendParams("question", "t-done", "c1")))
	if env.Error != nil {
		t.Fatalf("seed task: %+v", env.Error)
	}

	_, env = doRPC(t, s, rpcBody(2, a2a.MethodTasksCancel, a2a.TaskIDParams{ID: "t-done"}))
	if env.Error == nil || env.Error.Code != a2a.CodeTaskNotCancelable {
		t.Errorf("expected code %d, got %+v", a2a.CodeTaskNotCancelable, env.Error)
	}
}

func TestRPC_MalformedRequests(t *testing.T) {
	s, _ := newTestServer(&fakeBackend{}, config.CancelReject)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", "{not json", a2a.CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"message/send"}`, a2a.CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"message/explode"}`, a2a.CodeMethodNotFound},
		{"missing task id", fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":{}}`, a2a.MethodTasksGet), a2a.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, env := doRPC(t, s, tt.body)
			if env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("expected code %d, got %+v", tt.code, env.Error)
			}
		})
	}
}

func TestRPC_TransportErrors(t *testing.T) {
	s, _ := newTestServer(&fakeBackend{}, config.CancelReject)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /: expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("POST /nope: expected 404, got %d", rec.Code)
	}
}
