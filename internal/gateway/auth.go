package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Auth modes.
const (
	AuthModeSecure   = "secure"
	AuthModeInsecure = "insecure"
)

// Auth errors. Either one closes the socket after an error frame.
var (
	ErrUnauthorizedToken = errors.New("unauthorized_token")
	ErrSubjectMismatch   = errors.New("gateway: token subject mismatch")
)

// Identity is the verified subject of an auth token.
type Identity struct {
	UID string
}

// TokenVerifier checks an ID token against an external identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Authenticator gates join frames. In secure mode the token must verify and
// its subject must equal the claimed user ID; insecure mode accepts anyone
// and is permitted only outside production.
type Authenticator struct {
	mode     string
	verifier TokenVerifier
}

// NewAuthenticator creates an Authenticator. A secure-mode authenticator
// without a verifier denies every join.
func NewAuthenticator(mode string, verifier TokenVerifier) *Authenticator {
	return &Authenticator{mode: mode, verifier: verifier}
}

// Insecure reports whether auth checks are bypassed.
func (a *Authenticator) Insecure() bool {
	return a.mode != AuthModeSecure
}

// Authenticate validates token against claimedUserID per the configured mode.
func (a *Authenticator) Authenticate(ctx context.Context, token, claimedUserID string) error {
	if a.Insecure() {
		return nil
	}
	if a.verifier == nil {
		return fmt.Errorf("gateway: secure mode without verifier: %w", ErrUnauthorizedToken)
	}
	if token == "" {
		return ErrUnauthorizedToken
	}
	id, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorizedToken, err)
	}
	if id.UID != claimedUserID {
		return fmt.Errorf("%w: %w", ErrUnauthorizedToken, ErrSubjectMismatch)
	}
	return nil
}
