package scope

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"fundops/internal/identity"
)

// policyFile is the on-disk form:
//
//	roles:
//	  AUDITOR: [compliance, board, investor-reports]
//	  GP: unrestricted
type policyFile struct {
	Roles map[string]yaml.Node `yaml:"roles"`
}

// LoadPolicy parses a YAML partition policy. Roles that are not listed see
// nothing.
func LoadPolicy(r io.Reader) (Policy, error) {
	var pf policyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("decode scope policy: %w", err)
	}

	policy := Policy{}
	for name, node := range pf.Roles {
		role, err := identity.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("scope policy: %w", err)
		}
		switch node.Kind {
		case yaml.ScalarNode:
			if node.Value != "unrestricted" {
				return nil, fmt.Errorf("scope policy: role %s: expected a partition list or \"unrestricted\"", role)
			}
			policy[role] = Rule{Unrestricted: true}
		case yaml.SequenceNode:
			var parts []Partition
			if err := node.Decode(&parts); err != nil {
				return nil, fmt.Errorf("scope policy: role %s: %w", role, err)
			}
			policy[role] = Rule{Partitions: parts}
		default:
			return nil, fmt.Errorf("scope policy: role %s: unsupported value", role)
		}
	}
	return policy, nil
}

// LoadPolicyFile reads a policy from path, or returns DefaultPolicy when path
// is empty.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scope policy: %w", err)
	}
	defer f.Close()
	return LoadPolicy(f)
}
