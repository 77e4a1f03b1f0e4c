// Package resolve implements the feature resolver of spec.md section 4.4 —
// the fixed-point computation that turns an Unresolved graph into a
// Resolved graph whose active feature sets, surviving edges, and split
// node identities match what Cargo itself would compute for a host-target
// build.
//
// Grounded on the teacher's solver.go (the worklist/unselected-queue solve
// loop shape), selection.go (tracking what's currently active and why),
// and satisfy.go (checking a contribution against existing state before
// committing it) — all three re-expressed here for a feature-set lattice
// instead of a version-constraint lattice. There is no backtracking here,
// unlike the teacher's SAT-style solver: feature activation is purely
// additive and monotone (spec.md section 4.4's "termination is guaranteed
// because the feature-set lattice per node is finite and contribution is
// monotone"), so a simple worklist suffices.
package resolve

import (
	"fmt"
	"io"
	"sort"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoerr"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargomodel"
	"github.com/shuttle-hq/cargo-nbuild/internal/depgraph"
	"github.com/shuttle-hq/cargo-nbuild/internal/platform"
)

// Options configures a resolution run, per spec.md section 6's "a set of
// requested features and a default-features flag".
type Options struct {
	RequestedFeatures []string
	DefaultFeatures   bool
	Target            platform.Target

	// Trace, when non-nil, receives one line per feature-activation
	// contribution as the worklist drains — the --verbose hook of
	// SPEC_FULL.md section 10. Nil by default: tracing is an optional
	// side channel, never required for a correct resolution.
	Trace io.Writer
}

type node struct {
	key           NodeKey
	pkg           *cargomodel.Package
	active        map[string]bool
	activatedDeps map[string]bool
}

type resolver struct {
	graph  *depgraph.Graph
	opts   Options
	nodes  map[NodeKey]*node
	queue  []NodeKey
	queued map[NodeKey]bool
	warned map[string]bool
	diags  []cargoerr.Diagnostic
}

// Resolve runs the feature resolver over g and returns the Resolved graph
// plus any non-fatal diagnostics. A non-nil error is always a *cargoerr.CoreError.
func Resolve(g *depgraph.Graph, opts Options) (*Graph, []cargoerr.Diagnostic, error) {
	r := &resolver{
		graph:  g,
		opts:   opts,
		nodes:  make(map[NodeKey]*node),
		queued: make(map[NodeKey]bool),
		warned: make(map[string]bool),
	}

	rootKey := NodeKey{ID: g.Root, Context: ContextNormal}
	root := r.getOrCreate(rootKey)

	for _, f := range opts.RequestedFeatures {
		if f != "default" && !root.pkg.HasFeature(f) {
			return nil, r.diags, cargoerr.For(cargoerr.UnknownFeature, root.pkg.ID, fmt.Sprintf("requested feature %q does not exist", f))
		}
	}

	seed := make([]string, 0, len(opts.RequestedFeatures)+1)
	seed = append(seed, opts.RequestedFeatures...)
	if opts.DefaultFeatures {
		seed = append(seed, "default")
	}
	if err := r.contribute(root, seed); err != nil {
		return nil, r.diags, err
	}

	for len(r.queue) > 0 {
		key := r.queue[0]
		r.queue = r.queue[1:]
		r.queued[key] = false
		n := r.nodes[key]
		if err := r.processNode(n); err != nil {
			return nil, r.diags, err
		}
	}

	return r.materialize(rootKey), r.diags, nil
}

// getOrCreate returns the node for key, creating and scheduling it for an
// initial processing pass if this is the first time it has been reached.
// A node must run processNode at least once even with no active features,
// since unconditional (non-optional) dependency edges fire independently
// of feature activation.
func (r *resolver) getOrCreate(key NodeKey) *node {
	if n, ok := r.nodes[key]; ok {
		return n
	}
	n := &node{
		key:           key,
		pkg:           r.graph.Lookup(key.ID),
		active:        make(map[string]bool),
		activatedDeps: make(map[string]bool),
	}
	r.nodes[key] = n
	r.queued[key] = true
	r.queue = append(r.queue, key)
	return n
}

// contribute adds features to n's active set, scheduling n for processing
// if anything new was added. A "default" entry is always accepted even if
// the package declares no explicit default feature (spec.md section 4.4).
func (r *resolver) contribute(n *node, features []string) error {
	changed := false
	var added []string
	for _, f := range features {
		if f == "" || n.active[f] {
			continue
		}
		n.active[f] = true
		changed = true
		added = append(added, f)
	}
	if changed {
		r.tracef(n, added)
		if !r.queued[n.key] {
			r.queued[n.key] = true
			r.queue = append(r.queue, n.key)
		}
	}
	return nil
}

// tracef reports newly activated features on n to opts.Trace, sorted for
// reproducible output. A no-op when no trace sink was configured.
func (r *resolver) tracef(n *node, added []string) {
	if r.opts.Trace == nil || len(added) == 0 {
		return
	}
	sorted := append([]string(nil), added...)
	sort.Strings(sorted)
	fmt.Fprintf(r.opts.Trace, "resolve: %s[%s] activates %v\n", n.pkg.ID, n.key.Context, sorted)
}

// processNode runs the per-node fixed point of spec.md section 4.4: expand
// every currently-active local feature's tokens, fire dependency edges
// whose activation state is now satisfied, and repeat until nothing in
// this node changes. Changes to *other* nodes are handled by the outer
// worklist.
func (r *resolver) processNode(n *node) error {
	for {
		changed := false

		feats := make([]string, 0, len(n.active))
		for f := range n.active {
			feats = append(feats, f)
		}

		for _, f := range feats {
			for _, raw := range n.pkg.DeclaredFeatures[f] {
				tok := cargomodel.ParseToken(raw)
				switch tok.Kind {
				case cargomodel.ActivateLocalFeature:
					localChanged, err := r.activateLocal(n, tok.Name)
					if err != nil {
						return err
					}
					changed = changed || localChanged

				case cargomodel.ActivateOptionalDep:
					if !n.pkg.OptionalDeps[tok.Name] {
						return cargoerr.For(cargoerr.ActivatedMissingOptionalDep, n.pkg.ID,
							fmt.Sprintf("dep:%s referenced by feature %q names no declared optional dependency", tok.Name, f))
					}
					if !n.activatedDeps[tok.Name] {
						n.activatedDeps[tok.Name] = true
						changed = true
					}

				case cargomodel.ActivateDepFeature:
					edgeChanged, err := r.propagateDepFeature(n, tok.Name, tok.Feature, false)
					if err != nil {
						return err
					}
					changed = changed || edgeChanged

				case cargomodel.ActivateDepFeatureWeak:
					edgeChanged, err := r.propagateDepFeature(n, tok.Name, tok.Feature, true)
					if err != nil {
						return err
					}
					changed = changed || edgeChanged
				}
			}
		}

		if fired, err := r.fireBaseEdges(n); err != nil {
			return err
		} else if fired {
			changed = true
		}

		if !changed {
			return nil
		}
	}
}

// activateLocal applies the "feat" token: activate a declared local
// feature, or fall back to the legacy bare-optional-dep rule of spec.md
// section 4.4 when name is an optional dependency rather than a feature.
func (r *resolver) activateLocal(n *node, name string) (bool, error) {
	if name == "default" || n.pkg.HasFeature(name) {
		if n.active[name] {
			return false, nil
		}
		n.active[name] = true
		return true, nil
	}

	if n.pkg.OptionalDeps[name] && !n.pkg.ExplicitDepToken[name] {
		changed := false
		if !n.activatedDeps[name] {
			n.activatedDeps[name] = true
			changed = true
		}
		if !n.active[name] {
			n.active[name] = true
			changed = true
		}
		return changed, nil
	}

	return false, cargoerr.For(cargoerr.UnknownFeature, n.pkg.ID, fmt.Sprintf("feature %q does not exist", name))
}

// propagateDepFeature applies a "name/feature" or "name?/feature" token:
// locate the edge(s) declared under import name name, optionally require
// prior activation (weak=true), and contribute feature to each surviving
// target.
func (r *resolver) propagateDepFeature(n *node, name, feature string, weak bool) (bool, error) {
	edges := n.pkg.EdgeTo(name)
	if len(edges) == 0 {
		return false, cargoerr.For(cargoerr.UnknownFeature, n.pkg.ID,
			fmt.Sprintf("no dependency named %q (referenced by dep-feature token %q)", name, tokenString(name, feature, weak)))
	}

	changed := false
	for _, e := range edges {
		if e.Kind == cargomodel.Dev {
			continue
		}
		if !r.predicateMatches(n.pkg.ID, e) {
			continue
		}
		if e.Optional {
			if weak {
				if !n.activatedDeps[name] {
					continue
				}
			} else if !n.activatedDeps[name] {
				n.activatedDeps[name] = true
				changed = true
			}
		}

		childKey := NodeKey{ID: e.Target, Context: r.childContext(n.key.Context, e)}
		child := r.getOrCreate(childKey)

		if feature != "default" && !child.pkg.HasFeature(feature) {
			return changed, cargoerr.For(cargoerr.UnknownFeature, child.pkg.ID,
				fmt.Sprintf("feature %q activated from %s does not exist", feature, n.pkg.ID))
		}

		if err := r.contribute(child, []string{feature}); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// fireBaseEdges walks every non-dev edge and, for any whose activation
// requirement is currently satisfied (non-optional, or optional-and-
// activated), contributes its base feature set (default-features +
// explicit-features) to the target. It is idempotent: re-firing an
// already-satisfied edge contributes nothing new.
func (r *resolver) fireBaseEdges(n *node) (bool, error) {
	changed := false
	for _, e := range n.pkg.DependencyEdges {
		if e.Kind == cargomodel.Dev {
			continue
		}
		name := e.Rename
		if name == "" {
			name = e.Target.Name
		}
		if e.Optional && !n.activatedDeps[name] {
			continue
		}
		if !r.predicateMatches(n.pkg.ID, e) {
			continue
		}

		childKey := NodeKey{ID: e.Target, Context: r.childContext(n.key.Context, e)}
		child := r.getOrCreate(childKey)

		base := make([]string, 0, len(e.ExplicitFeatures)+1)
		if e.UsesDefaultFeatures {
			base = append(base, "default")
		}
		base = append(base, e.ExplicitFeatures...)

		before := len(child.active)
		if err := r.contribute(child, base); err != nil {
			return changed, err
		}
		if len(child.active) != before {
			changed = true
		}
	}
	return changed, nil
}

// childContext implements spec.md section 4.4's context-splitting rule:
// build edges and edges into proc-macros force Build context; once in
// Build context, everything reachable from that node stays in Build
// context, since it all compiles for the host toolchain alongside it.
func (r *resolver) childContext(parent Context, e cargomodel.Edge) Context {
	target := r.graph.Lookup(e.Target)
	if e.Kind == cargomodel.Build || (target != nil && target.IsProcMacro) || parent == ContextBuild {
		return ContextBuild
	}
	return ContextNormal
}

// predicateMatches evaluates e's platform predicate against the resolver's
// host target, conservatively treating an unparseable cfg expression as
// non-matching and recording a diagnostic (spec.md section 4.4), at most
// once per (declaring package, raw expression) pair.
func (r *resolver) predicateMatches(declarer cargoid.PackageId, e cargomodel.Edge) bool {
	if e.PlatformUnparseable != "" {
		warnKey := declarer.String() + "->" + e.PlatformUnparseable
		if !r.warned[warnKey] {
			r.warned[warnKey] = true
			r.diags = append(r.diags, cargoerr.Diagnostic{
				Package: declarer,
				Message: fmt.Sprintf("unparseable cfg expression %q on edge to %s: edge dropped", e.PlatformUnparseable, e.Target),
			})
		}
		return false
	}
	return e.PlatformPredicate.Matches(r.opts.Target)
}

func tokenString(name, feature string, weak bool) string {
	if weak {
		return name + "?/" + feature
	}
	return name + "/" + feature
}

// materialize freezes every created node into a Node, filtering out_edges
// to only those that survived resolution, in the package's DependencyEdges
// order (the adapter's sort by edge kind, then dependency key).
func (r *resolver) materialize(rootKey NodeKey) *Graph {
	out := &Graph{Root: rootKey, Nodes: make(map[NodeKey]*Node, len(r.nodes))}

	for key, n := range r.nodes {
		rn := &Node{
			Key:            key,
			Package:        n.pkg,
			ActiveFeatures: copySet(n.active),
		}

		for _, e := range n.pkg.DependencyEdges {
			if e.Kind == cargomodel.Dev {
				continue
			}
			name := e.Rename
			if name == "" {
				name = e.Target.Name
			}
			if e.Optional && !n.activatedDeps[name] {
				continue
			}
			if !r.predicateMatches(n.pkg.ID, e) {
				continue
			}
			rn.OutEdges = append(rn.OutEdges, ResolvedEdge{
				Target: NodeKey{ID: e.Target, Context: r.childContext(key.Context, e)},
				Kind:   e.Kind,
				Rename: e.Rename,
			})
		}

		out.Nodes[key] = rn
	}

	return out
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		if v {
			out[k] = true
		}
	}
	return out
}
