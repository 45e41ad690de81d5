// Package executor orchestrates one inbound request: normalize the message,
// resolve the session, invoke the remote backend and report status
// transitions until a terminal state.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
	"github.com/nextlevelbuilder/agentgate/internal/backend"
	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/session"
	"github.com/nextlevelbuilder/agentgate/internal/task"
)

// ErrCancelNotSupported is returned by Cancel in reject mode.
var ErrCancelNotSupported = errors.New("cancel is not supported")

// RequestContext is the typed per-request input to the executor. The
// transport fills it in before Execute runs; Credential is empty when the
// deployment does not use bearer auth.
type RequestContext struct {
	TaskID     string
	ContextID  string
	Message    a2a.Message
	Credential string

	// Existing is the already-tracked task for re-submissions, nil on first
	// sight of the task id.
	Existing *a2a.Task
}

// Executor runs tasks against the remote backend. All dependencies are
// injected; there is one executor per deployment, not per request.
type Executor struct {
	sessions *session.Registry
	remote   backend.Adapter
	store    task.Store
	timeout  time.Duration
	cancel   config.CancelMode
}

// New creates an executor. timeout bounds each remote invocation.
func New(sessions *session.Registry, remote backend.Adapter, store task.Store, timeout time.Duration, cancel config.CancelMode) *Executor {
	return &Executor{
		sessions: sessions,
		remote:   remote,
		store:    store,
		timeout:  timeout,
		cancel:   cancel,
	}
}

// Execute drives one task to a terminal state. Failures below this layer are
// converted into a failed transition; the returned error only reflects
// transport-level problems (a gone caller). events may be nil.
func (e *Executor) Execute(ctx context.Context, rc RequestContext, events chan<- a2a.StatusUpdateEvent) (*a2a.Task, error) {
	t := rc.Existing
	if t == nil {
		t = a2a.NewTask(rc.TaskID, rc.ContextID)
	}
	u := task.NewUpdater(e.store, t, events)

	// Submitted is emitted once per task; re-submissions skip it.
	if rc.Existing == nil {
		if err := u.Submit(ctx); err != nil {
			return t, err
		}
	}
	if err := u.StartWork(ctx); err != nil {
		return t, err
	}

	if err := e.process(ctx, rc, u); err != nil {
		slog.Error("request processing failed", "task", t.ID, "context", rc.ContextID, "error", err)
		notice := a2a.NewAgentTextMessage("Error: "+err.Error(), rc.ContextID, t.ID)
		if ferr := u.Fail(ctx, notice); ferr != nil {
			return t, ferr
		}
	}
	return t, nil
}

// process is everything between working and the terminal transition. Any
// returned error becomes a failed transition in Execute.
func (e *Executor) process(ctx context.Context, rc RequestContext, u *task.Updater) error {
	text := PartsToText(rc.Message.Parts)

	working := a2a.NewAgentTextMessage("Processing your request...", rc.ContextID, u.Task().ID)
	if err := u.Working(ctx, working); err != nil {
		return err
	}

	sess, err := e.sessions.GetOrCreate(ctx, rc.ContextID, rc.Credential)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	remoteCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	replies, err := e.remote.Ask(remoteCtx, sess.ThreadID, text)
	if err != nil {
		return fmt.Errorf("invoke remote backend: %w", err)
	}

	sess.Append(text)
	var lastReply string
	for {
		select {
		case ev, ok := <-replies:
			if !ok {
				return e.complete(ctx, rc, u, lastReply)
			}
			if ev.Type != backend.EventMessage || ev.Text == "" {
				continue
			}
			lastReply = ev.Text
			sess.Append(ev.Text)
			msg := a2a.NewAgentTextMessage(ev.Text, rc.ContextID, u.Task().ID)
			if err := u.Working(ctx, msg); err != nil {
				return err
			}
		case <-remoteCtx.Done():
			return fmt.Errorf("remote invocation aborted: %w", remoteCtx.Err())
		}
	}
}

func (e *Executor) complete(ctx context.Context, rc RequestContext, u *task.Updater, lastReply string) error {
	final := lastReply
	if final == "" {
		final = "Task completed."
	}
	return u.Complete(ctx, a2a.NewAgentTextMessage(final, rc.ContextID, u.Task().ID))
}

// Cancel handles an explicit cancel request. In reject mode it always answers
// ErrCancelNotSupported; in force-fail mode it moves the task to failed with
// a cancellation notice. Cancelling an already-terminal task reports
// task.ErrTerminal.
func (e *Executor) Cancel(ctx context.Context, t *a2a.Task) (*a2a.Task, error) {
	if e.cancel == config.CancelReject {
		return nil, ErrCancelNotSupported
	}

	slog.Info("cancelling task", "task", t.ID, "context", t.ContextID)
	u := task.NewUpdater(e.store, t, nil)
	notice := a2a.NewAgentTextMessage("Task cancelled by user", t.ContextID, t.ID)
	if err := u.Fail(ctx, notice); err != nil {
		return nil, err
	}
	return u.Task(), nil
}
