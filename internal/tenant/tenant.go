// Package tenant defines tenant identity, access grants, and the error
// taxonomy shared by every data-plane package.
//
// The package is a leaf: it imports nothing from the rest of recalld, so
// storage, resolution, and transport layers can all depend on it without
// cycles.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
)

// Isolation error taxonomy - fail closed security model.
var (
	// ErrMissingTenant is returned when an operation reaches the data layer
	// without tenant identity. This triggers "fail closed" behavior - no
	// empty results, just errors.
	ErrMissingTenant = errors.New("tenant identity missing from context")

	// ErrInvalidTenant is returned when a tenant identifier is malformed.
	ErrInvalidTenant = errors.New("invalid tenant identifier")

	// ErrUnknownTenant is returned when a tenant is not present in the
	// registry.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrAccessDenied is returned when the access resolver denies an
	// operation for the acting tenant in its current enforcement phase.
	ErrAccessDenied = errors.New("access denied")
)

// MaxIDLength bounds tenant identifiers so they stay usable as Postgres
// setting values and index keys.
const MaxIDLength = 128

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ID is a validated tenant identifier.
type ID string

// ParseID validates a raw tenant identifier. Valid IDs are non-empty,
// at most MaxIDLength bytes, and match ^[a-z0-9][a-z0-9._-]*$.
func ParseID(raw string) (ID, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTenant)
	}
	if len(raw) > MaxIDLength {
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrInvalidTenant, MaxIDLength)
	}
	if !idPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, raw)
	}
	return ID(raw), nil
}

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// Valid reports whether the ID would pass ParseID.
func (id ID) Valid() bool {
	_, err := ParseID(string(id))
	return err == nil
}

// AccessLevel classifies a tenant's cross-tenant read visibility. It bounds
// reads only: writes target the acting tenant's own rows at every level,
// in every enforcement phase past pending.
type AccessLevel string

const (
	// AccessSuper reads every registered tenant's rows.
	AccessSuper AccessLevel = "super"

	// AccessShared reads its own rows plus those of any tenant granting it
	// read access.
	AccessShared AccessLevel = "shared"

	// AccessIsolated reads only its own rows. Grants held by an isolated
	// tenant contribute nothing.
	AccessIsolated AccessLevel = "isolated"
)

// ParseAccessLevel validates a stored or user-supplied level string. A
// level outside the closed set is a construction-time error, never
// defaulted.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch l := AccessLevel(s); l {
	case AccessSuper, AccessShared, AccessIsolated:
		return l, nil
	default:
		return "", fmt.Errorf("%w: unknown access level %q", ErrInvalidTenant, s)
	}
}

// String returns the canonical level string, round-tripping ParseAccessLevel.
func (l AccessLevel) String() string { return string(l) }

// Valid reports whether the level is a member of the closed set.
func (l AccessLevel) Valid() bool {
	_, err := ParseAccessLevel(string(l))
	return err == nil
}

// ReadsAllTenants reports whether the level sees every tenant's rows.
func (l AccessLevel) ReadsAllTenants() bool { return l == AccessSuper }

// HonorsGrants reports whether read grants extend the level's visibility.
func (l AccessLevel) HonorsGrants() bool { return l == AccessShared }

// Grant records that Grantee may read Grantor's rows. Grants are directed
// and non-transitive, and they confer read visibility only: there is no
// write grant, cross-tenant writes are governed by the enforcement phase
// alone.
type Grant struct {
	Grantor ID
	Grantee ID
}
