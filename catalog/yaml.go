package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileSchema is the on-disk catalog format. Phases are a list so their order
// is preserved.
type fileSchema struct {
	ResetRoles []Role        `yaml:"reset_roles"`
	Phases     []phaseSchema `yaml:"phases"`
}

type phaseSchema struct {
	Name       string               `yaml:"name"`
	Activities []ActivityDefinition `yaml:"activities"`
}

// LoadFile reads a catalog from a YAML file. Dependency pointers may be
// omitted in the file; they are wired to the immediate predecessor, matching
// the linear-chain invariant Validate enforces.
//
// Example:
//
//	reset_roles: [admin, test_manager]
//	phases:
//	  - name: scoping
//	    activities:
//	      - name: Start Scoping Phase
//	        type: start
//	        rule:
//	          manual: true
//	          allowed_roles: [tester, admin]
//	          allowed_sources: [not_started]
//	          next_state: in_progress
//	          side_effects:
//	            phase_state: in_progress
//	            completes_activity: true
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Parse(data)
}

// Parse builds and validates a catalog from YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var file fileSchema
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	if len(file.ResetRoles) == 0 {
		file.ResetRoles = DefaultResetRoles
	}

	order := make([]string, 0, len(file.Phases))
	phases := make(map[string][]ActivityDefinition, len(file.Phases))
	for _, p := range file.Phases {
		if _, dup := phases[p.Name]; dup {
			return nil, fmt.Errorf("parsing catalog: duplicate phase %q", p.Name)
		}
		defs := p.Activities
		for i := range defs {
			defs[i].Phase = p.Name
			if i > 0 && defs[i].DependsOn == "" {
				defs[i].DependsOn = defs[i-1].Name
			}
		}
		order = append(order, p.Name)
		phases[p.Name] = defs
	}

	return New(order, phases, file.ResetRoles)
}
