package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
)

// ErrTerminal is returned when a transition is attempted on a task that has
// already reached completed, canceled or failed.
var ErrTerminal = errors.New("task is in a terminal state")

// Updater drives one task through its state machine, persisting every
// transition and optionally publishing it to an event channel.
//
// The only legal sequences are submitted, working (repeated), then completed
// or failed, with failed also reachable straight from submitted. Anything
// else is rejected.
type Updater struct {
	store  Store
	task   *a2a.Task
	events chan<- a2a.StatusUpdateEvent // nil when nobody streams
}

// NewUpdater wraps a task. events may be nil for non-streaming requests.
func NewUpdater(store Store, t *a2a.Task, events chan<- a2a.StatusUpdateEvent) *Updater {
	return &Updater{store: store, task: t, events: events}
}

// Task returns the current task snapshot.
func (u *Updater) Task() *a2a.Task { return u.task }

// Submit marks the task submitted. Emitted once per task; re-submission of an
// already-tracked task is the caller's responsibility to skip.
func (u *Updater) Submit(ctx context.Context) error {
	return u.transition(ctx, a2a.TaskStateSubmitted, nil, false)
}

// StartWork moves the task to working.
func (u *Updater) StartWork(ctx context.Context) error {
	return u.transition(ctx, a2a.TaskStateWorking, nil, false)
}

// Working re-emits working with an incremental message.
func (u *Updater) Working(ctx context.Context, msg *a2a.Message) error {
	return u.transition(ctx, a2a.TaskStateWorking, msg, false)
}

// Complete moves the task to its successful terminal state.
func (u *Updater) Complete(ctx context.Context, msg *a2a.Message) error {
	return u.transition(ctx, a2a.TaskStateCompleted, msg, true)
}

// Fail moves the task to its failed terminal state.
func (u *Updater) Fail(ctx context.Context, msg *a2a.Message) error {
	return u.transition(ctx, a2a.TaskStateFailed, msg, true)
}

func (u *Updater) transition(ctx context.Context, to a2a.TaskState, msg *a2a.Message, final bool) error {
	from := u.task.Status.State
	if !canTransition(from, to) {
		if from.Terminal() {
			return fmt.Errorf("%s -> %s: %w", from, to, ErrTerminal)
		}
		return fmt.Errorf("illegal task transition %s -> %s", from, to)
	}

	u.task.Status = a2a.TaskStatus{
		State:     to,
		Message:   msg,
		Timestamp: a2a.Timestamp(time.Now()),
	}
	if msg != nil {
		u.task.History = append(u.task.History, *msg)
	}

	if err := u.store.Save(ctx, u.task); err != nil {
		// The store is advisory for in-flight requests; the stream still
		// carries the transition.
		slog.Warn("task snapshot save failed", "task", u.task.ID, "state", to, "error", err)
	}

	if u.events != nil {
		ev := a2a.NewStatusUpdateEvent(u.task, final)
		select {
		case u.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// canTransition encodes the monotonic state machine.
func canTransition(from, to a2a.TaskState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case a2a.TaskStateSubmitted:
		return from == a2a.TaskStateUnknown
	case a2a.TaskStateWorking:
		return from == a2a.TaskStateSubmitted || from == a2a.TaskStateWorking
	case a2a.TaskStateCompleted:
		return from == a2a.TaskStateWorking
	case a2a.TaskStateFailed, a2a.TaskStateCanceled:
		return from == a2a.TaskStateSubmitted || from == a2a.TaskStateWorking
	}
	return false
}
