package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBusy is returned when a run is started while another one is active.
var ErrBusy = errors.New("a run is already active")

// Job is one closed-loop sequence. It must return promptly once ctx is done.
type Job func(ctx context.Context, runID string) error

// Outcome describes how the last run ended.
type Outcome struct {
	Name     string
	RunID    string
	Err      error
	Canceled bool
	Started  time.Time
	Ended    time.Time
}

// Worker runs at most one job at a time.
type Worker struct {
	logger  *slog.Logger
	notify  func(string)
	onAbort func(context.Context)

	mu      sync.Mutex
	running bool
	name    string
	runID   string
	cancel  context.CancelFunc
	done    chan struct{}
	last    Outcome
}

// New creates a worker. onAbort runs after a job fails, panics or is
// cancelled and should bring every actuator to rest. notify receives
// operator-facing status lines; either may be nil.
func New(onAbort func(context.Context), notify func(string), logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Worker{
		logger:  logger.With("component", "worker"),
		notify:  notify,
		onAbort: onAbort,
	}
}

// Start launches job in its own goroutine and returns the run ID.
func (w *Worker) Start(name string, job Job) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return "", fmt.Errorf("cannot start %s while %s is running: %w", name, w.name, ErrBusy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.NewString()

	w.running = true
	w.name = name
	w.runID = runID
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx, cancel, name, runID, job, w.done)
	return runID, nil
}

// Stop cancels the active run and waits for it to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the active run, if any, has finished.
func (w *Worker) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Active reports the name and run ID of the active run.
func (w *Worker) Active() (name, runID string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name, w.runID, w.running
}

// Last returns the outcome of the most recently finished run.
func (w *Worker) Last() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Worker) run(ctx context.Context, cancel context.CancelFunc, name, runID string, job Job, done chan struct{}) {
	logger := w.logger.With("job", name, "run_id", runID)
	outcome := Outcome{Name: name, RunID: runID, Started: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic", "panic", r, "stack", string(debug.Stack()))
			outcome.Err = fmt.Errorf("panic: %v", r)
			w.notify(fmt.Sprintf("%s aborted: %v", name, r))
			w.abort()
		}

		cancel()
		outcome.Ended = time.Now()
		w.mu.Lock()
		w.running = false
		w.name = ""
		w.runID = ""
		w.cancel = nil
		w.done = nil
		w.last = outcome
		w.mu.Unlock()
		close(done)
	}()

	logger.Info("run started")
	w.notify(fmt.Sprintf("%s started", name))

	err := job(ctx, runID)
	outcome.Err = err
	outcome.Canceled = ctx.Err() != nil || errors.Is(err, context.Canceled)

	switch {
	case outcome.Canceled:
		logger.Info("run cancelled")
		w.notify(fmt.Sprintf("%s stopped", name))
		w.abort()
	case err != nil:
		logger.Error("run failed", "err", err)
		w.notify(fmt.Sprintf("%s failed: %v", name, err))
		w.abort()
	default:
		logger.Info("run finished", "elapsed", time.Since(outcome.Started))
	}
}

func (w *Worker) abort() {
	if w.onAbort == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.onAbort(ctx)
}
