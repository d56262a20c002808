package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// GoogleIdentity is the part of a Google ID token the backend uses.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// ErrUnverifiedEmail is returned for tokens whose email Google has not verified.
var ErrUnverifiedEmail = errors.New("google account email is not verified")

type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleIdentity, error)
}

type googleVerifier struct {
	clientID string
}

// NewGoogleVerifier validates ID tokens issued for clientID.
func NewGoogleVerifier(clientID string) GoogleVerifier {
	return &googleVerifier{clientID: clientID}
}

func (v *googleVerifier) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	payload, err := idtoken.Validate(ctx, idToken, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return identityFromClaims(payload.Subject, payload.Claims)
}

func identityFromClaims(subject string, claims map[string]any) (*GoogleIdentity, error) {
	email, _ := claims["email"].(string)
	if email == "" {
		return nil, errors.New("google token carries no email")
	}
	// Some issuers encode the flag as a string.
	verified, _ := claims["email_verified"].(bool)
	if s, ok := claims["email_verified"].(string); ok {
		verified = s == "true"
	}
	if !verified {
		return nil, ErrUnverifiedEmail
	}
	name, _ := claims["name"].(string)
	return &GoogleIdentity{Subject: subject, Email: email, EmailVerified: true, Name: name}, nil
}
