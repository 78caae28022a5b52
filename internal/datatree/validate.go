package datatree

import "fmt"

// LeafrefRef is one cross-module REF dependency to check during
// validation (spec.md §3: dependency entries with Tag==REF model
// leafref/when/must). It is deliberately decoupled from
// internal/registry.Dependency so this package stays free of a registry
// import — callers translate registry dependency entries into LeafrefRefs.
type LeafrefRef struct {
	SourceModule string
	TargetModule string
	TargetXPath  string
}

// ValidateLeafrefs implements the cross-module revalidation scenario from
// spec.md §8 scenario 3: for every ref, the target module's data (inside
// combined, a tree holding every loaded module's root under combined.Modules)
// must contain at least one node matching TargetXPath. The first
// unsatisfied reference is reported; callers map this into
// errs.ValidationFailed with the node path attached.
func ValidateLeafrefs(combined *Tree, refs []LeafrefRef) error {
	for _, ref := range refs {
		if _, ok := combined.Modules[ref.TargetModule]; !ok {
			return fmt.Errorf("datatree: validate: referenced module %s not loaded for leafref from %s", ref.TargetModule, ref.SourceModule)
		}
		steps, err := ParseXPath(ref.TargetXPath)
		if err != nil {
			return fmt.Errorf("datatree: validate: %w", err)
		}
		if len(Eval(combined, steps)) == 0 {
			return fmt.Errorf("datatree: validate: leafref target %s (required by %s) does not exist", ref.TargetXPath, ref.SourceModule)
		}
	}
	return nil
}

// AssertParentExists implements op_validate's "asserting that the
// data-parent of a nested operation exists" (spec.md §4.6): parentXPath
// must match at least one node in operational data.
func AssertParentExists(operational *Tree, parentXPath string) error {
	if parentXPath == "" {
		return nil
	}
	steps, err := ParseXPath(parentXPath)
	if err != nil {
		return fmt.Errorf("datatree: op_validate: %w", err)
	}
	if len(Eval(operational, steps)) == 0 {
		return fmt.Errorf("datatree: op_validate: data-parent %s does not exist", parentXPath)
	}
	return nil
}
