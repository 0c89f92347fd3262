// Package identity derives the authenticated actor for a request.
//
// An Actor is never persisted: it is rebuilt from verified credentials on every
// request and passed explicitly (inside a Caller) to every engine operation.
package identity

import (
	"fmt"
	"slices"
	"strings"

	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
)

// Role is a platform role carried by an actor.
type Role string

const (
	RoleGP             Role = "GP"
	RoleCompliance     Role = "COMPLIANCE"
	RoleDirector       Role = "DIRECTOR"
	RoleAuditor        Role = "AUDITOR"
	RoleInvestor       Role = "INVESTOR"
	RoleAdmin          Role = "ADMIN"
	RoleInvestmentTeam Role = "INVESTMENT_TEAM"
)

var knownRoles = map[Role]struct{}{
	RoleGP: {}, RoleCompliance: {}, RoleDirector: {}, RoleAuditor: {},
	RoleInvestor: {}, RoleAdmin: {}, RoleInvestmentTeam: {},
}

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownRoles[r]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown role %q", truncate(s, 32)))
	}
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Roles is a set of roles expressed as a sorted, duplicate-free slice.
type Roles []Role

// NewRoles builds a normalized role set.
func NewRoles(roles ...Role) Roles {
	out := slices.Clone(roles)
	slices.Sort(out)
	return slices.Compact(out)
}

func (rs Roles) Has(r Role) bool {
	return slices.Contains(rs, r)
}

// Intersects reports whether rs and other share at least one role.
func (rs Roles) Intersects(other Roles) bool {
	for _, r := range other {
		if rs.Has(r) {
			return true
		}
	}
	return false
}

// Strings returns the wire values.
func (rs Roles) Strings() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// Actor is an authenticated identity: who it is, what it may do, and which
// funds it may see.
type Actor struct {
	ID      string
	Roles   Roles
	FundIDs []id.FundID
}

const maxActorIDLength = 256

// NewActor validates raw identity claims. Every failure is Unauthorized: a
// malformed identity is never narrowed to an anonymous or default actor.
func NewActor(actorID string, roles []string, fundIDs []string) (Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "actor id is required")
	}
	if len(actorID) > maxActorIDLength {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "actor id is too long")
	}
	if len(roles) == 0 {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "actor must carry at least one role")
	}
	parsed := make([]Role, 0, len(roles))
	for _, raw := range roles {
		r, err := ParseRole(raw)
		if err != nil {
			return Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid role claim")
		}
		parsed = append(parsed, r)
	}
	funds := make([]id.FundID, 0, len(fundIDs))
	for _, raw := range fundIDs {
		fundID, err := id.ParseFundID(raw)
		if err != nil {
			return Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid fund id claim")
		}
		if !slices.Contains(funds, fundID) {
			funds = append(funds, fundID)
		}
	}
	return Actor{ID: actorID, Roles: NewRoles(parsed...), FundIDs: funds}, nil
}

// IsAdmin reports whether the actor holds the unrestricted role.
func (a Actor) IsAdmin() bool { return a.Roles.Has(RoleAdmin) }

// HasFund reports whether fundID is in the actor's permitted set. It does not
// consider ADMIN; use access.Guard for decisions.
func (a Actor) HasFund(fundID id.FundID) bool {
	return slices.Contains(a.FundIDs, fundID)
}

// SystemActor is the identity background jobs act as.
func SystemActor(name string) Actor {
	return Actor{ID: "system:" + name, Roles: NewRoles(RoleAdmin)}
}

// Caller is the explicit per-request context threaded into every engine call.
type Caller struct {
	Actor     Actor
	RequestID string
}
