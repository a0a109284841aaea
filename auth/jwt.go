package auth

import (
	"context"
	"strings"
)

// JWTAuthenticator validates a bearer token against the OAuth provider's
// JWKS, adapting the teacher's ValidateJWT (oauth.go) to the Authenticator
// contract.
type JWTAuthenticator struct{}

func (JWTAuthenticator) Authenticate(ctx context.Context, req Request) (*Identity, error) {
	token := bearerToken(req)
	if token == "" {
		return nil, ErrRejected
	}

	payload, err := ValidateJWT(token)
	if err != nil {
		return nil, ErrRejected
	}

	username := GetUsernameFromPayload(payload)
	if !VerifyExpectedUsername(username) {
		return nil, ErrRejected
	}

	return &Identity{
		ID:       payload.Sub,
		Username: username,
		Role:     roleFromQuery(req.Query),
	}, nil
}

func bearerToken(req Request) string {
	if auth := req.Headers.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return req.Query.Get("token")
}

var _ Authenticator = JWTAuthenticator{}

// FromConfig selects an Authenticator per the configured auth mode:
// JWTAuthenticator for "oauth" and "password", DevAuthenticator for any
// other mode (including the default "none").
func FromConfig(mode string) Authenticator {
	switch mode {
	case "oauth", "password":
		return JWTAuthenticator{}
	default:
		return DevAuthenticator{}
	}
}
