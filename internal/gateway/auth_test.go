package gateway

import (
	"context"
	"errors"
	"testing"
)

type staticVerifier struct {
	uid string
	err error
}

func (v staticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if v.err != nil {
		return Identity{}, v.err
	}
	return Identity{UID: v.uid}, nil
}

func TestAuthenticate_InsecureAcceptsAnyone(t *testing.T) {
	a := NewAuthenticator(AuthModeInsecure, nil)
	if !a.Insecure() {
		t.Fatalf("Insecure() = false")
	}
	if err := a.Authenticate(context.Background(), "", "whoever"); err != nil {
		t.Errorf("insecure mode rejected a join: %v", err)
	}
}

func TestAuthenticate_SecureWithoutVerifierDeniesAll(t *testing.T) {
	a := NewAuthenticator(AuthModeSecure, nil)
	err := a.Authenticate(context.Background(), "token", "u1")
	if !errors.Is(err, ErrUnauthorizedToken) {
		t.Errorf("err = %v, want ErrUnauthorizedToken", err)
	}
}

func TestAuthenticate_Secure(t *testing.T) {
	cases := []struct {
		name     string
		verifier TokenVerifier
		token    string
		claimed  string
		wantErr  error
	}{
		{"empty token", staticVerifier{uid: "u1"}, "", "u1", ErrUnauthorizedToken},
		{"verifier failure", staticVerifier{err: errors.New("expired")}, "t", "u1", ErrUnauthorizedToken},
		{"subject mismatch", staticVerifier{uid: "someone-else"}, "t", "u1", ErrUnauthorizedToken},
		{"valid", staticVerifier{uid: "u1"}, "t", "u1", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAuthenticator(AuthModeSecure, tc.verifier)
			err := a.Authenticate(context.Background(), tc.token, tc.claimed)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestAuthenticate_SubjectMismatchIsDistinguishable(t *testing.T) {
	a := NewAuthenticator(AuthModeSecure, staticVerifier{uid: "other"})
	err := a.Authenticate(context.Background(), "t", "u1")
	if !errors.Is(err, ErrSubjectMismatch) {
		t.Errorf("err = %v, want ErrSubjectMismatch in chain", err)
	}
}
