package core

import "context"

// Identity is the authenticated user bound to a connection.
// It is resolved once per connection and never mutated by the core.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
	Avatar      string
	IsAdmin     bool
	IsBanned    bool
}

// IsZero reports whether the identity carries no user.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// Name returns the display name, falling back to the username.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Username
}

// IdentityResolver turns a credential (a bearer token) into an Identity.
// It returns ErrUnauthenticated when the credential is invalid, expired, or belongs to a banned user.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (Identity, error)
}
