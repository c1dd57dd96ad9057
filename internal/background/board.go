package background

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/openkcm/session-exporter/internal/account"
)

type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is the last known outcome of the background export of an account.
type Status struct {
	TaskID      string    `json:"taskId"`
	State       State     `json:"state"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
	ArchivePath string    `json:"archivePath,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
}

// Board remembers the latest export status per account for a retention
// period.
type Board struct {
	cache *cache.Cache
	key   account.KeyFunc
}

func NewBoard(retention time.Duration, key account.KeyFunc) *Board {
	if key == nil {
		key = account.SafeKey
	}

	return &Board{
		cache: cache.New(retention, 2*retention),
		key:   key,
	}
}

func (b *Board) Publish(_ context.Context, ev Event) {
	st := Status{
		TaskID:    ev.TaskID,
		State:     StateRunning,
		StartedAt: ev.StartedAt,
	}
	if ev.Phase == PhaseFinished {
		st.FinishedAt = ev.FinishedAt
		st.ArchivePath = ev.Result.ArchivePath
		st.Size = ev.Result.Size
		st.Delivered = ev.Result.Delivered
		st.State = StateSucceeded
		if ev.Err != nil {
			st.State = StateFailed
			st.Error = ev.Err.Error()
		}
	}

	b.cache.SetDefault(b.key(ev.Identifier), st)
}

// Lookup returns the status of the account if it is still retained.
func (b *Board) Lookup(identifier string) (Status, bool) {
	v, ok := b.cache.Get(b.key(identifier))
	if !ok {
		return Status{}, false
	}

	st, ok := v.(Status)

	return st, ok
}
