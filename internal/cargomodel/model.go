// Package cargomodel holds the lockfile-derived, read-only data model
// shared by the graph builder, the feature resolver, and the emitter:
// spec.md section 3's Package and Edge types, plus the small activation-
// token grammar the feature resolver interprets.
//
// These are the Cargo-domain analogues of the teacher's ProjectRoot-keyed
// manifest data (golang-dep's Package/ProjectProperties), generalized for
// feature flags and edge kinds Go's import graph has no concept of.
package cargomodel

import (
	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
	"github.com/shuttle-hq/cargo-nbuild/internal/platform"
)

// EdgeKind distinguishes how a dependency is used, per spec.md section 3.
type EdgeKind uint8

const (
	Normal EdgeKind = iota
	Build
	Dev
)

func (k EdgeKind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Build:
		return "build"
	case Dev:
		return "dev"
	default:
		return "unknown"
	}
}

// Edge is a declared dependency from one Package to another, carrying all
// the metadata the feature resolver needs to decide whether, and how, it
// survives resolution. It is immutable once constructed by the adapter.
type Edge struct {
	Target               cargoid.PackageId
	Kind                 EdgeKind
	Rename               string // "" if the dep is not renamed
	Optional             bool
	UsesDefaultFeatures  bool
	ExplicitFeatures     []string
	PlatformPredicate    platform.Predicate
	RawPlatformPredicate string // "" if unconditional; kept for diagnostics

	// PlatformUnparseable holds the raw cfg(...) text when it failed to
	// parse. The resolver treats such an edge as conservatively dropped
	// and emits a PlatformCfgUnparseable diagnostic, per spec.md section
	// 4.4, rather than failing the whole resolution.
	PlatformUnparseable string
}

// Package is one locked crate's manifest-derived, immutable data.
type Package struct {
	ID          cargoid.PackageId
	Edition     string
	IsProcMacro bool

	// DeclaredFeatures maps a feature name to the list of activation
	// tokens it contributes, per spec.md section 4.4.
	DeclaredFeatures map[string][]string

	DependencyEdges []Edge

	BuildScriptPath string // "" if no build script
	LibPath         string // "" if the default lib.rs entry point is used
	LocalSrc        string // "" for registry/git deps
	RegistrySha     string // "" for non-registry deps

	// OptionalDeps is the set of dependency names (as imported, i.e. after
	// rename) that are declared optional — used to validate `dep:foo`
	// tokens and to drive the legacy bare-name activation rule.
	OptionalDeps map[string]bool

	// ExplicitDepToken records, for each dependency name, whether the
	// manifest used the explicit `dep:name` syntax anywhere for it. When it
	// has, the legacy implicit "bare name activates a same-named feature"
	// rule is suppressed for that dependency, per spec.md section 4.4.
	ExplicitDepToken map[string]bool
}

// HasFeature reports whether name is a feature declared directly in the
// manifest (as opposed to an implicit dep-activation-only name).
func (p *Package) HasFeature(name string) bool {
	_, ok := p.DeclaredFeatures[name]
	return ok
}

// EdgeTo returns the edge(s) declared to the dependency with the given
// import name (post-rename), matched against Edge.Rename or, if unset,
// Edge.Target.Name.
func (p *Package) EdgeTo(importName string) []*Edge {
	var out []*Edge
	for i := range p.DependencyEdges {
		e := &p.DependencyEdges[i]
		if importNameOf(e) == importName {
			out = append(out, e)
		}
	}
	return out
}

func importNameOf(e *Edge) string {
	if e.Rename != "" {
		return e.Rename
	}
	return e.Target.Name
}
