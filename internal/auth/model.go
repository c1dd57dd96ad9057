package auth

import (
	"errors"
	"time"
)

type Stage string

const (
	StageChallengeSent    Stage = "challenge_sent"
	StagePasswordRequired Stage = "password_required"
)

// Flow is one in-flight authentication attempt. It lives in the flow
// repository from Start until it is completed or expires.
type Flow struct {
	ID            string    // Correlation ID handed back to the caller
	ResourceKey   string    // Key of the credential store, used for locking
	Identifier    string    // Account identifier (phone number)
	ChallengeHash string    // Opaque challenge reference from the provider
	Stage         Stage     // Last reached stage
	CreatedAt     time.Time // Time the challenge was issued
}

// Account is the outcome of a completed authentication.
type Account struct {
	ID string
}

// StartResult is returned by Manager.Start.
type StartResult struct {
	CorrelationID string
}

// Result is returned by Manager.Verify and Manager.Password.
type Result struct {
	AccountID     string
	NeedsPassword bool
	CorrelationID string
}

var (
	// ErrPasswordRequired is returned by a Provider when the account is
	// protected by a second factor password.
	ErrPasswordRequired = errors.New("password required")

	// ErrFlowNotFound is returned by a FlowRepository for unknown or expired flows.
	ErrFlowNotFound = errors.New("flow not found")
)
