package sauth

import (
	"slices"
	"strings"

	"github.com/pilab-dev/shadow-auth/errors"
)

// ParseScope splits a scope parameter on spaces and commas, dropping empty
// and duplicate entries while keeping the original order.
func ParseScope(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})

	scope := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(scope, f) {
			scope = append(scope, f)
		}
	}

	return scope
}

// FormatScope joins a scope set for the wire.
func FormatScope(scope []string) string {
	return strings.Join(scope, " ")
}

// intersect keeps the elements of a that are also in b, in a's order.
func intersect(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, s := range a {
		if slices.Contains(b, s) {
			out = append(out, s)
		}
	}

	return out
}

// isSubset reports whether every element of sub is in set.
func isSubset(sub, set []string) bool {
	for _, s := range sub {
		if !slices.Contains(set, s) {
			return false
		}
	}

	return true
}

// ResolveScope computes the granted scope for an owner-authorized request:
// requested ∩ client scopes ∩ owner authorities. An empty request asks for
// everything the client may get. Asking for a scope the client is not
// registered for is an error, and so is ending up with nothing.
func ResolveScope(requested, clientScopes, authorities []string) ([]string, error) {
	if len(requested) == 0 {
		requested = clientScopes
	}

	if !isSubset(requested, clientScopes) {
		return nil, errors.NewInvalidScope("Invalid scope: " + FormatScope(requested))
	}

	granted := intersect(requested, authorities)
	if len(granted) == 0 {
		return nil, errors.NewInvalidScope("Empty scope (either the client or the user is not allowed the requested scopes)")
	}

	return granted, nil
}
