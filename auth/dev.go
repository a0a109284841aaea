package auth

import (
	"context"

	"github.com/google/uuid"
)

// DevAuthenticator assigns anonymous identities without checking any
// credential. The role is participant unless the connection's query
// string carries role=observer, in which case it is observer.
type DevAuthenticator struct{}

func (DevAuthenticator) Authenticate(ctx context.Context, req Request) (*Identity, error) {
	return &Identity{
		ID:       "anon-" + uuid.New().String(),
		Username: "anonymous",
		Role:     roleFromQuery(req.Query),
	}, nil
}

var _ Authenticator = DevAuthenticator{}
