package background

import (
	"context"
	"time"

	"github.com/openkcm/session-exporter/internal/export"
)

type Phase string

const (
	PhaseStarted  Phase = "started"
	PhaseFinished Phase = "finished"
)

// Event reports the progress of a background export.
type Event struct {
	TaskID     string
	Identifier string
	Trigger    string
	Phase      Phase
	StartedAt  time.Time
	FinishedAt time.Time // Zero while started
	Result     export.Result
	Err        error
}

// Sink consumes events. Publish must not block for long: it runs on the
// export goroutine.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Publish(ctx context.Context, ev Event) {
	f(ctx, ev)
}
