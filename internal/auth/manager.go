package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/account"
	"github.com/openkcm/session-exporter/internal/lockreg"
	"github.com/openkcm/session-exporter/internal/serviceerr"
)

const (
	DefaultCodeLength = 5
	DefaultFlowTTL    = 60 * time.Second
)

// Manager drives the challenge, code and password steps of an account login.
type Manager struct {
	provider Provider
	flows    FlowRepository
	locks    *lockreg.Registry
	layout   account.Layout
	trigger  Trigger

	flowTTL    time.Duration
	codeLength int
	newID      func() string
	now        func() time.Time
}

type Option func(*Manager)

// WithTrigger sets the function scheduling the export after a login.
func WithTrigger(trigger Trigger) Option {
	return func(m *Manager) {
		m.trigger = trigger
	}
}

func WithCodeLength(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.codeLength = n
		}
	}
}

// WithFlowTTL reports the lifetime of the flow repository to the callers.
// It does not change the repository.
func WithFlowTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.flowTTL = ttl
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(provider Provider, flows FlowRepository, locks *lockreg.Registry, layout account.Layout, opts ...Option) *Manager {
	m := &Manager{
		provider:   provider,
		flows:      flows,
		locks:      locks,
		layout:     layout,
		trigger:    func(context.Context, string) {},
		flowTTL:    DefaultFlowTTL,
		codeLength: DefaultCodeLength,
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// FlowTTL is the lifetime of a flow. Carriers of the correlation ID must not
// outlive it.
func (m *Manager) FlowTTL() time.Duration {
	return m.flowTTL
}

// Start requests a challenge for the identifier and returns the correlation ID
// of the new flow.
func (m *Manager) Start(ctx context.Context, identifier string) (StartResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return StartResult{}, serviceerr.New(serviceerr.CodeValidation, "phone number is required")
	}

	key := m.layout.ResourceKey(identifier)
	ctx = slogctx.With(ctx, "resource_key", key)

	hash, err := m.provider.IssueChallenge(ctx, m.layout.StorePath(identifier), identifier)
	if err != nil {
		slogctx.Warn(ctx, "Challenge could not be issued", "error", err)
		return StartResult{}, serviceerr.Wrap(serviceerr.CodeProtocolError, err)
	}

	flow := Flow{
		ID:            m.newID(),
		ResourceKey:   key,
		Identifier:    identifier,
		ChallengeHash: hash,
		Stage:         StageChallengeSent,
		CreatedAt:     m.now(),
	}
	if err := m.flows.StoreFlow(ctx, flow); err != nil {
		return StartResult{}, fmt.Errorf("storing flow: %w", err)
	}

	slogctx.Info(ctx, "Challenge sent", "flow_id", flow.ID)

	return StartResult{CorrelationID: flow.ID}, nil
}

// Verify checks the one time code of the flow. The flow is consumed on
// success; a provider asking for a password keeps it alive under the same ID
// and stores it again, which restarts its TTL.
func (m *Manager) Verify(ctx context.Context, correlationID, code string) (Result, error) {
	code = normaliseCode(code)
	if len(code) != m.codeLength {
		return Result{}, serviceerr.New(serviceerr.CodeValidation, fmt.Sprintf("code must have %d digits", m.codeLength))
	}

	flow, unlock, err := m.lockFlow(ctx, correlationID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	ctx = slogctx.With(ctx, "flow_id", flow.ID, "resource_key", flow.ResourceKey)

	acc, err := m.provider.VerifyCode(ctx, m.layout.StorePath(flow.Identifier), flow.Identifier, flow.ChallengeHash, code)
	switch {
	case errors.Is(err, ErrPasswordRequired):
		flow.Stage = StagePasswordRequired
		if err := m.flows.StoreFlow(ctx, flow); err != nil {
			return Result{}, fmt.Errorf("re-arming flow: %w", err)
		}
		slogctx.Info(ctx, "Password required")

		return Result{NeedsPassword: true, CorrelationID: flow.ID}, nil
	case err != nil:
		slogctx.Warn(ctx, "Code verification failed", "error", err)
		return Result{}, serviceerr.Wrap(serviceerr.CodeProtocolError, err)
	}

	return m.complete(ctx, flow, acc)
}

// Password completes the second factor step of the flow.
func (m *Manager) Password(ctx context.Context, correlationID, password string) (Result, error) {
	if strings.TrimSpace(password) == "" {
		return Result{}, serviceerr.New(serviceerr.CodeValidation, "password is required")
	}

	flow, unlock, err := m.lockFlow(ctx, correlationID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	ctx = slogctx.With(ctx, "flow_id", flow.ID, "resource_key", flow.ResourceKey)

	acc, err := m.provider.VerifyPassword(ctx, m.layout.StorePath(flow.Identifier), password)
	if err != nil {
		slogctx.Warn(ctx, "Password verification failed", "error", err)
		return Result{}, serviceerr.Wrap(serviceerr.CodeProtocolError, err)
	}

	return m.complete(ctx, flow, acc)
}

// lockFlow acquires the resource lock of the flow. The flow is read again
// once the lock is held so that a flow completed by a concurrent call is seen
// as gone.
func (m *Manager) lockFlow(ctx context.Context, correlationID string) (Flow, func(), error) {
	flow, err := m.loadFlow(ctx, correlationID)
	if err != nil {
		return Flow{}, nil, err
	}

	unlock := m.locks.Lock(flow.ResourceKey)

	flow, err = m.loadFlow(ctx, correlationID)
	if err != nil {
		unlock()
		return Flow{}, nil, err
	}

	return flow, unlock, nil
}

func (m *Manager) loadFlow(ctx context.Context, correlationID string) (Flow, error) {
	if correlationID == "" {
		return Flow{}, serviceerr.ErrFlowExpired
	}

	flow, err := m.flows.LoadFlow(ctx, correlationID)
	if err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			return Flow{}, serviceerr.ErrFlowExpired
		}

		return Flow{}, fmt.Errorf("loading flow: %w", err)
	}

	return flow, nil
}

// complete consumes the flow and triggers the export. Only the caller whose
// pop removes the flow triggers; the resource lock is per process, so with a
// shared repository another replica may have completed the same flow.
func (m *Manager) complete(ctx context.Context, flow Flow, acc Account) (Result, error) {
	if _, err := m.flows.PopFlow(ctx, flow.ID); err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			slogctx.Info(ctx, "Flow completed by a concurrent call", "account_id", acc.ID)
			return Result{}, serviceerr.ErrFlowExpired
		}

		return Result{}, fmt.Errorf("removing flow: %w", err)
	}

	slogctx.Info(ctx, "Account authenticated", "account_id", acc.ID)
	m.trigger(ctx, flow.Identifier)

	return Result{AccountID: acc.ID}, nil
}

func normaliseCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
