package auth

import (
	"net/http"
	"strings"
)

// Header names set by the API gateway in front of the queue.
const (
	// UserHeader carries the authenticated user id. The gateway strips
	// any client-supplied value before forwarding.
	UserHeader = "X-Scribely-User"

	// OperatorHeader carries the operator secret. Presenting a valid
	// secret grants operator status regardless of the user header.
	OperatorHeader = "X-Scribely-Operator"
)

// FromRequest resolves the caller identity from gateway headers.
//
// The subject comes from X-Scribely-User. Operator status is granted
// when X-Scribely-Operator, or a bearer Authorization header, matches
// the operator secret. Requests with neither header yield an anonymous
// identity; handlers decide whether that is acceptable per route.
func FromRequest(r *http.Request, secret OperatorSecret) Identity {
	id := Identity{Subject: r.Header.Get(UserHeader)}

	if tok := r.Header.Get(OperatorHeader); tok != "" && secret.Verify(tok) {
		id.Operator = true
		return id
	}
	if tok := bearerToken(r); tok != "" && secret.Verify(tok) {
		id.Operator = true
	}
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
