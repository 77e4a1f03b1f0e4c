// Package depgraph builds the Unresolved graph of spec.md section 3 from
// the adapter's normalized output, and enforces the one invariant that
// belongs to this layer rather than the resolver: the combined
// normal+build edge set must be acyclic.
//
// Grounded on the teacher's rootdata.go (assembling a root-relative view
// over a flat package set) and bridge.go (translating externally-sourced
// data into the solver's internal types), reduced to a single pass since
// this layer does no I/O of its own — the adapter already did that.
package depgraph

import (
	"fmt"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoerr"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargomodel"
)

// Graph is the Unresolved graph: every locked package, addressable by
// identity, plus the distinguished root and the set of workspace members
// (whose Dev edges are retained; spec.md section 3 notes dev edges are
// never traversed transitively and only live on workspace members).
type Graph struct {
	Root    cargoid.PackageId
	Members map[cargoid.PackageId]bool
	byID    map[cargoid.PackageId]*cargomodel.Package
}

// Packages returns every node in the graph, keyed by identity.
func (g *Graph) Packages() map[cargoid.PackageId]*cargomodel.Package {
	return g.byID
}

// Lookup returns the package for id, or nil if it is not in the graph.
func (g *Graph) Lookup(id cargoid.PackageId) *cargomodel.Package {
	return g.byID[id]
}

// IsMember reports whether id is a workspace member.
func (g *Graph) IsMember(id cargoid.PackageId) bool {
	return g.Members[id]
}

// Build assembles a Graph from a flat package set, a root identity, and
// the set of workspace-member identities. It returns CyclicGraph if the
// normal+build edge subgraph reachable from root (dev edges excluded, per
// spec.md section 4.3) contains a cycle; packages not reachable that way
// are not checked.
func Build(root cargoid.PackageId, members map[cargoid.PackageId]bool, packages map[cargoid.PackageId]*cargomodel.Package) (*Graph, error) {
	g := &Graph{Root: root, Members: members, byID: packages}

	if _, ok := packages[root]; !ok {
		return nil, cargoerr.For(cargoerr.ManifestNotFound, root, "root package missing from lockfile-derived package set")
	}

	for id, pkg := range packages {
		for _, e := range pkg.DependencyEdges {
			if _, ok := packages[e.Target]; !ok {
				return nil, cargoerr.For(cargoerr.LockfileOutOfSync, id, fmt.Sprintf("dependency %s has no matching lock entry", e.Target))
			}
		}
	}

	if cyc := g.findCycle(); cyc != nil {
		return nil, cargoerr.For(cargoerr.CyclicGraph, *cyc, fmt.Sprintf("cycle detected reaching %s again via normal/build edges", *cyc))
	}

	return g, nil
}

// findCycle runs a DFS over normal+build edges (dev edges excluded) and
// returns the identity of a package reached twice on the same path, or nil
// if the graph is acyclic.
func (g *Graph) findCycle() *cargoid.PackageId {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[cargoid.PackageId]int, len(g.byID))

	var visit func(id cargoid.PackageId) *cargoid.PackageId
	visit = func(id cargoid.PackageId) *cargoid.PackageId {
		switch state[id] {
		case visiting:
			return &id
		case done:
			return nil
		}
		state[id] = visiting
		pkg := g.byID[id]
		if pkg != nil {
			for _, e := range pkg.DependencyEdges {
				if e.Kind == cargomodel.Dev {
					continue
				}
				if cyc := visit(e.Target); cyc != nil {
					return cyc
				}
			}
		}
		state[id] = done
		return nil
	}

	return visit(g.Root)
}
