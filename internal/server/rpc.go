package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
	"github.com/nextlevelbuilder/agentgate/internal/auth"
	"github.com/nextlevelbuilder/agentgate/internal/executor"
	"github.com/nextlevelbuilder/agentgate/internal/task"
)

const maxRequestBodySize = 1 << 20 // 1MB

var tracer = otel.Tracer("agentgate/server")

// handleRPC dispatches the JSON-RPC task protocol on POST /.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// One request's failure must never take the process down.
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in rpc handler", "panic", rec)
			writeResponse(w, a2a.NewErrorResponse(nil, a2a.CodeInternalError, "internal error"))
		}
	}()

	if s.limiter.Enabled() {
		key := r.RemoteAddr
		if cred := auth.CredentialFromContext(r.Context()); cred != "" {
			key = "token:" + cred
		}
		if !s.limiter.Allow(key) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"TooManyRequests","message":"Rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req a2a.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, a2a.NewErrorResponse(nil, a2a.CodeParseError, fmt.Sprintf("invalid JSON: %v", err)))
		return
	}
	if req.JSONRPC != a2a.JSONRPCVersion {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}

	ctx, span := tracer.Start(r.Context(), "rpc "+req.Method)
	span.SetAttributes(attribute.String("rpc.method", req.Method))
	defer span.End()
	r = r.WithContext(ctx)

	switch req.Method {
	case a2a.MethodMessageSend:
		s.handleMessageSend(w, r, req)
	case a2a.MethodMessageStream:
		s.handleMessageStream(w, r, req)
	case a2a.MethodTasksGet:
		s.handleTasksGet(w, r, req)
	case a2a.MethodTasksCancel:
		s.handleTasksCancel(w, r, req)
	default:
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

// requestContext builds the typed executor input from message/send params.
func (s *Server) requestContext(r *http.Request, params a2a.MessageSendParams) executor.RequestContext {
	msg := params.Message

	taskID := msg.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}

	var existing *a2a.Task
	if msg.TaskID != "" {
		if t, err := s.store.Get(r.Context(), msg.TaskID); err == nil {
			existing = t
		}
	}

	return executor.RequestContext{
		TaskID:     taskID,
		ContextID:  contextID,
		Message:    msg,
		Credential: auth.CredentialFromContext(r.Context()),
		Existing:   existing,
	}
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request, req a2a.Request) {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err)))
		return
	}

	rc := s.requestContext(r, params)
	if rc.Existing != nil && rc.Existing.Status.State.Terminal() {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeTaskNotCancelable, fmt.Sprintf("task %s is already finished", rc.TaskID)))
		return
	}
	slog.Info("message/send", "task", rc.TaskID, "context", rc.ContextID)

	t, err := s.exec.Execute(r.Context(), rc, nil)
	if err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error()))
		return
	}
	writeResponse(w, a2a.NewResponse(req.ID, t))
}

func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request, req a2a.Request) {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err)))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	rc := s.requestContext(r, params)
	if rc.Existing != nil && rc.Existing.Status.State.Terminal() {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeTaskNotCancelable, fmt.Sprintf("task %s is already finished", rc.TaskID)))
		return
	}
	slog.Info("message/stream", "task", rc.TaskID, "context", rc.ContextID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan a2a.StatusUpdateEvent, 32)
	go func() {
		defer close(events)
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in task execution", "task", rc.TaskID, "panic", rec)
			}
		}()
		if _, err := s.exec.Execute(r.Context(), rc, events); err != nil {
			slog.Warn("stream execution aborted", "task", rc.TaskID, "error", err)
		}
	}()

	for ev := range events {
		writeSSEEvent(w, flusher, a2a.NewResponse(req.ID, ev))
	}
}

func (s *Server) handleTasksGet(w http.ResponseWriter, r *http.Request, req a2a.Request) {
	var params a2a.TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "task id is required"))
		return
	}

	t, err := s.store.Get(r.Context(), params.ID)
	if errors.Is(err, task.ErrNotFound) {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeTaskNotFound, fmt.Sprintf("task %s not found", params.ID)))
		return
	}
	if err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error()))
		return
	}

	if params.HistoryLength > 0 && len(t.History) > params.HistoryLength {
		t.History = t.History[len(t.History)-params.HistoryLength:]
	}

	// The session log spans every task on the context; tasks carry it as
	// metadata so one tasks/get shows the whole thread.
	if sess, ok := s.sessions.Get(t.ContextID); ok {
		if msgs := sess.History(); len(msgs) > 0 {
			t.Metadata = map[string]any{"conversationHistory": msgs}
		}
	}
	writeResponse(w, a2a.NewResponse(req.ID, t))
}

func (s *Server) handleTasksCancel(w http.ResponseWriter, r *http.Request, req a2a.Request) {
	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "task id is required"))
		return
	}

	t, err := s.store.Get(r.Context(), params.ID)
	if errors.Is(err, task.ErrNotFound) {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeTaskNotFound, fmt.Sprintf("task %s not found", params.ID)))
		return
	}
	if err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error()))
		return
	}

	cancelled, err := s.exec.Cancel(r.Context(), t)
	switch {
	case errors.Is(err, executor.ErrCancelNotSupported):
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeUnsupportedOperation, "This operation is not supported"))
	case errors.Is(err, task.ErrTerminal):
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeTaskNotCancelable, fmt.Sprintf("task %s is already finished", params.ID)))
	case err != nil:
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error()))
	default:
		writeResponse(w, a2a.NewResponse(req.ID, cancelled))
	}
}

func writeResponse(w http.ResponseWriter, resp a2a.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("writing rpc response failed", "error", err)
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, resp a2a.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("encoding sse event failed", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
