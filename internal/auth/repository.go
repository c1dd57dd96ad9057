package auth

import "context"

// FlowRepository keeps the flows for a bounded time. Implementations report
// unknown and expired flows with ErrFlowNotFound.
type FlowRepository interface {
	StoreFlow(ctx context.Context, flow Flow) error
	LoadFlow(ctx context.Context, flowID string) (Flow, error)
	// PopFlow loads and removes the flow atomically.
	PopFlow(ctx context.Context, flowID string) (Flow, error)
}

// Provider talks the account protocol. storePath is the credential store the
// provider reads and writes for the account.
type Provider interface {
	IssueChallenge(ctx context.Context, storePath, identifier string) (challengeHash string, _ error)
	VerifyCode(ctx context.Context, storePath, identifier, challengeHash, code string) (Account, error)
	VerifyPassword(ctx context.Context, storePath, password string) (Account, error)
}

// Trigger is invoked once per successful authentication. It must return
// without waiting for the work it schedules.
type Trigger func(ctx context.Context, identifier string)
