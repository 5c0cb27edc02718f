package timer

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict is logged when Delay is called for a key that is still registered.
	ErrConflict = errors.New("timer: task already scheduled")
	// ErrNotFound is logged when Abort is called for an unknown key.
	ErrNotFound = errors.New("timer: no such task")
)

// Work is a unit of work the scheduler can start and cancel.
type Work interface {
	Run(ctx context.Context) error
}

// Func adapts a function to Work.
type Func func(ctx context.Context) error

// Run calls f(ctx).
func (f Func) Run(ctx context.Context) error { return f(ctx) }

// Discarder is implemented by work that must release resources when it will never run.
type Discarder interface {
	Discard()
}

// State is a task's lifecycle state.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// TaskInfo is a point-in-time snapshot of a task.
type TaskInfo struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	State     State     `json:"-"`
	StateName string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	FireAt    time.Time `json:"fire_at"`
	Discarded bool      `json:"discarded,omitempty"`
	Err       error     `json:"-"`
}

// task is the registry record. Mutable fields are guarded by the owning Timer's mutex.
type task struct {
	id        string
	key       string
	work      Work
	createdAt time.Time
	fireAt    time.Time
	cancel    context.CancelFunc

	state     State
	aborted   bool
	discarded bool
	err       error
}

func (tk *task) info(namespace string) TaskInfo {
	return TaskInfo{
		ID:        tk.id,
		Namespace: namespace,
		Key:       tk.key,
		State:     tk.state,
		StateName: tk.state.String(),
		CreatedAt: tk.createdAt,
		FireAt:    tk.fireAt,
		Discarded: tk.discarded,
		Err:       tk.err,
	}
}

// discard releases work that never started. It is safe on work without a Discard method.
func discard(w Work) bool {
	if d, ok := w.(Discarder); ok {
		d.Discard()
		return true
	}
	return false
}
