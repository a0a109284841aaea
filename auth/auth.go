// Package auth implements the Authenticator contract of spec.md §6:
// authenticate({sessionId, transport}) → identity | reject. Identity.Role
// is the bridge's sole access-control key (spec.md §4.4).
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Role is a consumer identity's access-control attribute.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// Identity is what a successful Authenticate call produces.
type Identity struct {
	ID       string
	Username string
	Role     Role
}

// Request carries everything an Authenticator needs to decide, mirroring
// the transport-supplied {headers, query} pair from spec.md §6.
type Request struct {
	SessionID string
	Headers   http.Header
	Query     url.Values
}

// ErrRejected is returned by Authenticate for any credential failure;
// callers don't need to distinguish further than "close 4001".
var ErrRejected = errors.New("auth: rejected")

// Authenticator authenticates one consumer connection attempt.
type Authenticator interface {
	Authenticate(ctx context.Context, req Request) (*Identity, error)
}

// roleFromQuery lets a caller request the observer role explicitly
// (?role=observer); anything else defaults to participant.
func roleFromQuery(q url.Values) Role {
	if q.Get("role") == string(RoleObserver) {
		return RoleObserver
	}
	return RoleParticipant
}
