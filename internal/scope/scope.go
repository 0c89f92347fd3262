// Package scope narrows result sets to the partitions an actor's roles may see.
//
// The Access Guard answers a yes/no question per fund; the scope filter is
// applied after it, inside a permitted fund, where visibility depends on the
// partition (root folder) an item lives in.
package scope

import (
	"slices"

	"fundops/internal/identity"
	dErrors "fundops/pkg/domain-errors"
)

// Partition names a root-folder partition.
type Partition string

const (
	PartitionCompliance      Partition = "compliance"
	PartitionBoard           Partition = "board"
	PartitionInvestorReports Partition = "investor-reports"
	PartitionDeals           Partition = "deals"
	PartitionPortfolio       Partition = "portfolio"
)

// Rule is the visibility of a single role. A zero Rule sees nothing.
type Rule struct {
	Unrestricted bool
	Partitions   []Partition
}

// Policy maps roles to rules. Roles absent from the policy see nothing.
type Policy map[identity.Role]Rule

// DefaultPolicy is the platform's standard partition visibility.
func DefaultPolicy() Policy {
	return Policy{
		identity.RoleAdmin:      {Unrestricted: true},
		identity.RoleGP:         {Unrestricted: true},
		identity.RoleCompliance: {Unrestricted: true},
		identity.RoleAuditor: {Partitions: []Partition{
			PartitionCompliance, PartitionBoard, PartitionInvestorReports,
		}},
		identity.RoleDirector:       {Partitions: []Partition{PartitionBoard, PartitionInvestorReports}},
		identity.RoleInvestmentTeam: {Partitions: []Partition{PartitionDeals, PartitionPortfolio}},
		identity.RoleInvestor:       {},
	}
}

// View is an actor's effective visibility: the union over its roles.
type View struct {
	Unrestricted bool
	Allowed      map[Partition]struct{}
}

// ViewFor unions the rules of every role the actor holds.
func (p Policy) ViewFor(actor identity.Actor) View {
	v := View{Allowed: map[Partition]struct{}{}}
	for _, r := range actor.Roles {
		rule := p[r]
		if rule.Unrestricted {
			v.Unrestricted = true
		}
		for _, part := range rule.Partitions {
			v.Allowed[part] = struct{}{}
		}
	}
	return v
}

// Permits reports whether the view includes partition.
func (v View) Permits(partition Partition) bool {
	if v.Unrestricted {
		return true
	}
	_, ok := v.Allowed[partition]
	return ok
}

// Sorted returns the allowed partitions in stable order.
func (v View) Sorted() []Partition {
	out := make([]Partition, 0, len(v.Allowed))
	for p := range v.Allowed {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Request describes what the caller asks to see.
type Request struct {
	// Unrestricted asks for every partition. A scoped actor asking for it is
	// refused instead of being silently narrowed.
	Unrestricted bool
	// Partitions optionally narrows further. Partitions outside the view are
	// refused.
	Partitions []Partition
}

// Resolve checks req against the actor's view and returns the partitions the
// result may draw from. all is true when no partition restriction applies.
// A scoped actor with an empty view resolves to no partitions and all=false.
func Resolve(policy Policy, actor identity.Actor, req Request) (partitions []Partition, all bool, err error) {
	view, err := checkRequest(policy, actor, req)
	if err != nil {
		return nil, false, err
	}
	if len(req.Partitions) > 0 {
		return slices.Clone(req.Partitions), false, nil
	}
	if view.Unrestricted {
		return nil, true, nil
	}
	return view.Sorted(), false, nil
}

func checkRequest(policy Policy, actor identity.Actor, req Request) (View, error) {
	view := policy.ViewFor(actor)
	if req.Unrestricted && !view.Unrestricted {
		return view, dErrors.NewWithReason(dErrors.CodeForbidden, "scope_restricted",
			"unrestricted view requested by a scoped actor")
	}
	for _, p := range req.Partitions {
		if !view.Permits(p) {
			return view, dErrors.NewWithReason(dErrors.CodeForbidden, "scope_restricted",
				"requested partition "+string(p)+" is outside the actor's scope")
		}
	}
	return view, nil
}

// Filter keeps the items whose partition the actor may see. An actor whose
// view is empty gets an empty result, not an error.
func Filter[T any](policy Policy, actor identity.Actor, items []T, key func(T) Partition, req Request) ([]T, error) {
	view, err := checkRequest(policy, actor, req)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		part := key(item)
		if !view.Permits(part) {
			continue
		}
		if len(req.Partitions) > 0 && !slices.Contains(req.Partitions, part) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
