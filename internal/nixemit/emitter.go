// Package nixemit deterministically serializes a resolved dependency graph
// into the single Nix expression a pkgs.buildRustCrate-style builder
// consumes, per spec.md section 4.5.
//
// Grounded on the teacher's manifest.go/lock.go MarshalJSON methods (a
// stable, sorted, mechanical walk of an in-memory model into a wire
// format) and txn_writer.go (writing through a single io.Writer sink with
// every exit path, including error paths, leaving the sink untouched
// until the full output is ready).
package nixemit

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoerr"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargomodel"
	"github.com/shuttle-hq/cargo-nbuild/internal/resolve"
)

// Options configures emission details spec.md leaves as an open question
// (section 9) rather than a core invariant.
type Options struct {
	// EmitCrateBin, when true, adds `crateBin = [];` to every dependency
	// derivation (not the root). Off by default; spec.md section 9 treats
	// this as an emission-profile toggle observed in some expected
	// outputs, not a core invariant.
	EmitCrateBin bool
}

// plannedNode is one derivation's fully-resolved emission data, computed
// once up front so rendering is a pure formatting pass with no further
// decisions to make.
type plannedNode struct {
	derivKey  string
	pkg       *cargomodel.Package
	isRoot    bool
	features  []string
	deps      []string
	buildDeps []string
	renames   []rename
}

type rename struct {
	from, to string
}

// Emit writes g as a single Nix expression to w. The expression is built
// in memory first so that a write failure partway through never leaves a
// truncated partial expression indistinguishable from a complete one; any
// error from w.Write is lifted to EmitterIO.
func Emit(w io.Writer, g *resolve.Graph, opts Options) error {
	text, err := Render(g, opts)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, text); err != nil {
		return cargoerr.Wrap(cargoerr.EmitterIO, g.Nodes[g.Root].Package.ID, errors.Wrap(err, "writing emitted expression"))
	}
	return nil
}

// Render builds the full Nix expression text for g without writing it
// anywhere, per spec.md section 9's "emitter output is a pure function of
// the resolved graph".
func Render(g *resolve.Graph, opts Options) (string, error) {
	order, err := traversalOrder(g)
	if err != nil {
		return "", err
	}

	keys, err := assignDerivationKeys(g, order)
	if err != nil {
		return "", err
	}

	plans := make([]plannedNode, len(order))
	for i, key := range order {
		n := g.Nodes[key]
		plans[i] = planNode(n, key == g.Root, keys)
	}

	var hasLocal, hasRegistry bool
	for _, p := range plans {
		switch p.pkg.ID.Source.Kind {
		case cargoid.LocalPath, cargoid.Git:
			hasLocal = true
		case cargoid.Registry:
			hasRegistry = true
		}
	}

	var b strings.Builder
	b.WriteString("{ pkgs ? import <nixpkgs> {} }:\n")
	b.WriteString("let\n")
	if hasLocal {
		b.WriteString(sourceFilterPreamble)
	}
	if hasRegistry {
		b.WriteString(fetchcratePreamble)
	}
	for _, p := range plans {
		writeDerivation(&b, p, opts)
	}
	b.WriteString("in\n")
	b.WriteString(plans[0].derivKey)
	b.WriteString("\n")

	return b.String(), nil
}

// traversalOrder walks g depth-first from the root, appending a node to
// the order the first time its recursive subtree finishes (post-order),
// then moves the root to the front — "root first; then dependency nodes
// in a stable traversal order (post-order ...)" per spec.md section 4.5.
// Child edges are already in a deterministic order (the adapter sorts them
// by edge kind, then dependency key; the resolver preserves that order), so
// no further tie-break is needed beyond skipping nodes already visited.
func traversalOrder(g *resolve.Graph) ([]resolve.NodeKey, error) {
	visited := make(map[resolve.NodeKey]bool, len(g.Nodes))
	var post []resolve.NodeKey

	var visit func(key resolve.NodeKey) error
	visit = func(key resolve.NodeKey) error {
		if visited[key] {
			return nil
		}
		visited[key] = true
		n, ok := g.Nodes[key]
		if !ok {
			return cargoerr.New(cargoerr.EmitterIO, fmt.Sprintf("resolved graph references unknown node %s", key.ID))
		}
		for _, e := range n.OutEdges {
			if err := visit(e.Target); err != nil {
				return err
			}
		}
		post = append(post, key)
		return nil
	}

	if err := visit(g.Root); err != nil {
		return nil, err
	}

	order := make([]resolve.NodeKey, 0, len(post))
	order = append(order, g.Root)
	for _, key := range post {
		if key != g.Root {
			order = append(order, key)
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, cargoerr.New(cargoerr.EmitterIO, "resolved graph has nodes unreachable from the root")
	}
	return order, nil
}

// assignDerivationKeys computes the stable identifier for every node, per
// spec.md section 4.1: the root is emitted under its unsuffixed sanitized
// name; every other node under sanitize(name)_sanitize(version). A
// package resolved under both Normal and Build context would otherwise
// collide on that second form, since both contexts share one PackageId;
// the Build-context node's key is suffixed with "_build" to keep it
// distinct, per spec.md section 4.4's "both must appear ... under
// distinct derivation keys (the second suffixed, e.g. _build)". Any
// remaining collision is reported as DuplicateDerivationKey.
func assignDerivationKeys(g *resolve.Graph, order []resolve.NodeKey) (map[resolve.NodeKey]string, error) {
	contextsOf := make(map[cargoid.PackageId]map[resolve.Context]bool, len(g.Nodes))
	for key := range g.Nodes {
		if contextsOf[key.ID] == nil {
			contextsOf[key.ID] = make(map[resolve.Context]bool)
		}
		contextsOf[key.ID][key.Context] = true
	}

	keys := make(map[resolve.NodeKey]string, len(g.Nodes))
	seen := make(map[string]resolve.NodeKey, len(g.Nodes))

	for _, key := range order {
		var k string
		switch {
		case key == g.Root:
			k = rootDerivationKey(g.Nodes[key].Package.ID)
		case len(contextsOf[key.ID]) > 1 && key.Context == resolve.ContextBuild:
			k = cargoid.DerivationKey(key.ID) + "_build"
		default:
			k = cargoid.DerivationKey(key.ID)
		}
		if prior, dup := seen[k]; dup && prior != key {
			return nil, cargoerr.For(cargoerr.DuplicateDerivationKey, key.ID,
				fmt.Sprintf("derivation key %q also produced by %s", k, prior.ID))
		}
		seen[k] = key
		keys[key] = k
	}
	return keys, nil
}

func rootDerivationKey(id cargoid.PackageId) string {
	return sanitizeForKey(id.Name)
}

func sanitizeForKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func planNode(n *resolve.Node, isRoot bool, keys map[resolve.NodeKey]string) plannedNode {
	p := plannedNode{
		derivKey: keys[n.Key],
		pkg:      n.Package,
		isRoot:   isRoot,
	}

	for f := range n.ActiveFeatures {
		if f == "default" && !n.Package.HasFeature("default") {
			continue
		}
		p.features = append(p.features, f)
	}
	sort.Strings(p.features)

	for _, e := range n.OutEdges {
		key := keys[e.Target]
		switch e.Kind {
		case cargomodel.Normal:
			p.deps = append(p.deps, key)
		case cargomodel.Build:
			p.buildDeps = append(p.buildDeps, key)
		}
		if e.Rename != "" {
			p.renames = append(p.renames, rename{from: e.Target.ID.Name, to: e.Rename})
		}
	}
	sort.Slice(p.renames, func(i, j int) bool { return p.renames[i].from < p.renames[j].from })

	return p
}
