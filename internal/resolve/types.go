package resolve

import (
	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargomodel"
)

// Context distinguishes the two build contexts a package can be resolved
// under, per spec.md section 3. A package reached through both contexts
// gets two independent ResolvedNodes.
type Context uint8

const (
	ContextNormal Context = iota
	ContextBuild
)

func (c Context) String() string {
	if c == ContextBuild {
		return "build"
	}
	return "normal"
}

// NodeKey identifies a resolved node: a package identity plus the context
// it was reached in.
type NodeKey struct {
	ID      cargoid.PackageId
	Context Context
}

// ResolvedEdge is an edge that survived feature, platform, and
// optional-activation filtering, per spec.md section 3. All of the
// selector/predicate/optional metadata that drove the filtering has been
// consumed; only what the emitter needs remains.
type ResolvedEdge struct {
	Target NodeKey
	Kind   cargomodel.EdgeKind
	Rename string // "" if the dep is not renamed
}

// Node is the output of the resolver for one (PackageId, Context) pair.
type Node struct {
	Key            NodeKey
	Package        *cargomodel.Package
	ActiveFeatures map[string]bool
	OutEdges       []ResolvedEdge
}

// Graph is the complete resolved dependency graph: every node reachable
// from the root, keyed by NodeKey, per spec.md section 3's "every node
// reachable from the workspace root appears exactly once per distinct
// context it is used in".
type Graph struct {
	Root  NodeKey
	Nodes map[NodeKey]*Node
}
