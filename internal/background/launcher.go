// Package background runs exports detached from the request that triggered
// them. Outcomes never reach the caller; they are published to sinks.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/export"
)

const TriggerAuthenticated = "authenticated"

var ErrShuttingDown = errors.New("launcher is shutting down")

type Runner interface {
	Run(ctx context.Context, job export.Job) (export.Result, error)
}

// Task is the handle of one background export.
type Task struct {
	ID         string
	Identifier string

	done  chan struct{}
	event Event
}

// Wait blocks until the task has finished or ctx is done.
func (t *Task) Wait(ctx context.Context) (Event, error) {
	select {
	case <-t.done:
		return t.event, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

type Launcher struct {
	runner       Runner
	sinks        []Sink
	destination  string
	includeStore bool
	newID        func() string
	now          func() time.Time

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

type Option func(*Launcher)

// WithJob sets the destination and the store inclusion of triggered jobs.
func WithJob(destination string, includeStore bool) Option {
	return func(l *Launcher) {
		l.destination = destination
		l.includeStore = includeStore
	}
}

func WithSinks(sinks ...Sink) Option {
	return func(l *Launcher) {
		l.sinks = append(l.sinks, sinks...)
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Launcher) {
		l.newID = newID
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Launcher) {
		l.now = now
	}
}

func NewLauncher(runner Runner, opts ...Option) *Launcher {
	l := &Launcher{
		runner: runner,
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Trigger schedules an export of the account and returns immediately. The
// run ignores the cancellation of ctx but keeps its values.
func (l *Launcher) Trigger(ctx context.Context, identifier string) *Task {
	task := &Task{
		ID:         l.newID(),
		Identifier: identifier,
		done:       make(chan struct{}),
	}

	ctx = slogctx.With(context.WithoutCancel(ctx), "task_id", task.ID)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		now := l.now()
		l.finish(ctx, task, Event{
			TaskID:     task.ID,
			Identifier: identifier,
			Trigger:    TriggerAuthenticated,
			StartedAt:  now,
			FinishedAt: now,
			Err:        ErrShuttingDown,
		})

		return task
	}
	l.running.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.running.Done()
		l.run(ctx, task)
	}()

	return task
}

func (l *Launcher) run(ctx context.Context, task *Task) {
	ev := Event{
		TaskID:     task.ID,
		Identifier: task.Identifier,
		Trigger:    TriggerAuthenticated,
		Phase:      PhaseStarted,
		StartedAt:  l.now(),
	}
	l.publish(ctx, ev)

	var (
		res export.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("export panicked: %v", r)
			}
		}()
		res, err = l.runner.Run(ctx, export.Job{
			Identifier:   task.Identifier,
			IncludeStore: l.includeStore,
			Destination:  l.destination,
		})
	}()

	ev.FinishedAt = l.now()
	ev.Result = res
	ev.Err = err
	l.finish(ctx, task, ev)
}

func (l *Launcher) finish(ctx context.Context, task *Task, ev Event) {
	ev.Phase = PhaseFinished
	task.event = ev
	l.publish(ctx, ev)
	close(task.done)
}

func (l *Launcher) publish(ctx context.Context, ev Event) {
	for _, s := range l.sinks {
		s.Publish(ctx, ev)
	}
}

// Shutdown stops accepting triggers and waits for running exports until ctx
// is done.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background exports: %w", ctx.Err())
	}
}
