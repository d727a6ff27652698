// Package auth carries caller identity for queue operations.
//
// Identity travels on the context. HTTP handlers resolve it from
// gateway headers with [FromRequest]; embedded callers attach it with
// [WithIdentity]. Operator status is granted by presenting the shared
// operator secret and unlocks cancel-any-job and the stats endpoints.
package auth

import "context"

// Identity describes the caller of a queue operation.
type Identity struct {
	// Subject is the caller's user identifier. Empty for anonymous
	// callers and for operators authenticating by secret alone.
	Subject string

	// Operator grants access to operator-only operations and exempts
	// the caller from job ownership checks.
	Operator bool
}

// Anonymous reports whether the identity carries no subject and no
// operator grant.
func (id Identity) Anonymous() bool {
	return id.Subject == "" && !id.Operator
}

// Owns reports whether the identity may act on a job owned by ownerID.
// Operators may act on any job.
func (id Identity) Owns(ownerID string) bool {
	if id.Operator {
		return true
	}
	return id.Subject != "" && id.Subject == ownerID
}

type identityKey struct{}

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the identity from the context. Returns a zero
// Identity and false if none is present.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
