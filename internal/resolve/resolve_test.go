package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargomodel"
	"github.com/shuttle-hq/cargo-nbuild/internal/depgraph"
	"github.com/shuttle-hq/cargo-nbuild/internal/platform"
)

func reg(name, version string) cargoid.PackageId {
	return cargoid.PackageId{Name: name, Version: version, Source: cargoid.RegistrySource("https://crates.io")}
}

func buildGraph(t *testing.T, root cargoid.PackageId, pkgs ...*cargomodel.Package) *depgraph.Graph {
	t.Helper()
	set := make(map[cargoid.PackageId]*cargomodel.Package, len(pkgs))
	members := map[cargoid.PackageId]bool{root: true}
	for _, p := range pkgs {
		set[p.ID] = p
	}
	g, err := depgraph.Build(root, members, set)
	require.NoError(t, err)
	return g
}

func normalEdge(target cargoid.PackageId, defaultFeatures bool, features ...string) cargomodel.Edge {
	return cargomodel.Edge{
		Target:              target,
		Kind:                cargomodel.Normal,
		UsesDefaultFeatures: defaultFeatures,
		ExplicitFeatures:    features,
		PlatformPredicate:   platform.Always,
	}
}

// S1: a plain, feature-free dependency chain resolves with every node
// reachable, each in Normal context.
func TestResolveSimpleChain(t *testing.T) {
	a, b, c := reg("a", "1.0.0"), reg("b", "1.0.0"), reg("c", "1.0.0")
	pa := &cargomodel.Package{ID: a, DependencyEdges: []cargomodel.Edge{normalEdge(b, true)}}
	pb := &cargomodel.Package{ID: b, DependencyEdges: []cargomodel.Edge{normalEdge(c, true)}}
	pc := &cargomodel.Package{ID: c}
	g := buildGraph(t, a, pa, pb, pc)

	out, diags, err := Resolve(g, Options{DefaultFeatures: true, Target: platform.Linux64})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Len(t, out.Nodes, 3)
	for _, id := range []cargoid.PackageId{a, b, c} {
		_, ok := out.Nodes[NodeKey{ID: id, Context: ContextNormal}]
		assert.True(t, ok, "expected %s in resolved graph", id)
	}
}

// S2: activating a feature on the root that forwards via "dep/feature"
// activates the same feature transitively on the dependency.
func TestResolveDepFeatureForwarding(t *testing.T) {
	a, b := reg("a", "1.0.0"), reg("b", "1.0.0")
	pa := &cargomodel.Package{
		ID: a,
		DeclaredFeatures: map[string][]string{
			"extra": {"b/fancy"},
		},
		DependencyEdges: []cargomodel.Edge{normalEdge(b, false)},
	}
	pb := &cargomodel.Package{
		ID: b,
		DeclaredFeatures: map[string][]string{
			"fancy": {},
		},
	}
	g := buildGraph(t, a, pa, pb)

	out, _, err := Resolve(g, Options{RequestedFeatures: []string{"extra"}, Target: platform.Linux64})
	require.NoError(t, err)

	bNode := out.Nodes[NodeKey{ID: b, Context: ContextNormal}]
	require.NotNil(t, bNode)
	assert.True(t, bNode.ActiveFeatures["fancy"])
}

// An optional dependency stays out of the resolved graph until a
// dep: token or the legacy bare-name rule activates it.
func TestResolveOptionalDependencyGatedByActivation(t *testing.T) {
	a, b := reg("a", "1.0.0"), reg("b", "1.0.0")
	edge := normalEdge(b, true)
	edge.Optional = true
	pa := &cargomodel.Package{
		ID:           a,
		OptionalDeps: map[string]bool{"b": true},
		DeclaredFeatures: map[string][]string{
			"with_b": {"dep:b"},
		},
		DependencyEdges: []cargomodel.Edge{edge},
	}
	pb := &cargomodel.Package{ID: b}
	g := buildGraph(t, a, pa, pb)

	out, _, err := Resolve(g, Options{Target: platform.Linux64})
	require.NoError(t, err)
	_, present := out.Nodes[NodeKey{ID: b, Context: ContextNormal}]
	assert.False(t, present, "b must not appear until activated")

	out2, _, err := Resolve(g, Options{RequestedFeatures: []string{"with_b"}, Target: platform.Linux64})
	require.NoError(t, err)
	_, present2 := out2.Nodes[NodeKey{ID: b, Context: ContextNormal}]
	assert.True(t, present2, "b must appear once with_b is requested")
}

// S4: a build-dependency, and anything it transitively pulls in, resolves
// under Build context even via plain normal edges, and the same package
// reached through both a normal and a build edge gets two distinct nodes.
func TestResolveBuildContextContagionAndSplit(t *testing.T) {
	root, bld, shared := reg("root", "1.0.0"), reg("bld", "1.0.0"), reg("shared", "1.0.0")
	proot := &cargomodel.Package{
		ID: root,
		DependencyEdges: []cargomodel.Edge{
			normalEdge(shared, true),
			{Target: bld, Kind: cargomodel.Build, UsesDefaultFeatures: true, PlatformPredicate: platform.Always},
		},
	}
	pbld := &cargomodel.Package{ID: bld, DependencyEdges: []cargomodel.Edge{normalEdge(shared, true)}}
	pshared := &cargomodel.Package{ID: shared}
	g := buildGraph(t, root, proot, pbld, pshared)

	out, _, err := Resolve(g, Options{Target: platform.Linux64})
	require.NoError(t, err)

	_, normalShared := out.Nodes[NodeKey{ID: shared, Context: ContextNormal}]
	_, buildShared := out.Nodes[NodeKey{ID: shared, Context: ContextBuild}]
	assert.True(t, normalShared, "shared must appear in normal context via root")
	assert.True(t, buildShared, "shared must appear in build context via bld")

	_, buildBld := out.Nodes[NodeKey{ID: bld, Context: ContextBuild}]
	assert.True(t, buildBld)
}

// Dev-dependency edges on a workspace member never contribute
// features and never create resolved nodes of their own.
func TestResolveDevEdgesExcluded(t *testing.T) {
	a, devOnly := reg("a", "1.0.0"), reg("dev-only", "1.0.0")
	pa := &cargomodel.Package{
		ID: a,
		DependencyEdges: []cargomodel.Edge{
			{Target: devOnly, Kind: cargomodel.Dev, UsesDefaultFeatures: true, PlatformPredicate: platform.Always},
		},
	}
	pdev := &cargomodel.Package{ID: devOnly}
	g := buildGraph(t, a, pa, pdev)

	out, _, err := Resolve(g, Options{Target: platform.Linux64})
	require.NoError(t, err)
	assert.Len(t, out.Nodes, 1, "dev-only dependency must not be resolved")
}

// S6: an edge guarded by an unparseable cfg expression is dropped and
// reported as a diagnostic rather than failing resolution.
func TestResolveUnparseablePlatformCfgIsDiagnostic(t *testing.T) {
	a, b := reg("a", "1.0.0"), reg("b", "1.0.0")
	edge := normalEdge(b, true)
	edge.PlatformPredicate = platform.Predicate{}
	edge.PlatformUnparseable = "target_os = \"plan9\" and everything()"
	pa := &cargomodel.Package{ID: a, DependencyEdges: []cargomodel.Edge{edge}}
	pb := &cargomodel.Package{ID: b}
	g := buildGraph(t, a, pa, pb)

	out, diags, err := Resolve(g, Options{Target: platform.Linux64})
	require.NoError(t, err)
	_, present := out.Nodes[NodeKey{ID: b, Context: ContextNormal}]
	assert.False(t, present)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "unparseable")
}

func TestResolveWeakDepFeatureRequiresPriorActivation(t *testing.T) {
	a, b, c := reg("a", "1.0.0"), reg("b", "1.0.0"), reg("c", "1.0.0")
	edgeB := normalEdge(b, false)
	edgeB.Optional = true
	pa := &cargomodel.Package{
		ID:           a,
		OptionalDeps: map[string]bool{"b": true},
		DeclaredFeatures: map[string][]string{
			"extra": {"b?/fancy"},
		},
		DependencyEdges: []cargomodel.Edge{edgeB, normalEdge(c, true)},
	}
	pb := &cargomodel.Package{ID: b, DeclaredFeatures: map[string][]string{"fancy": {}}}
	pc := &cargomodel.Package{ID: c}
	g := buildGraph(t, a, pa, pb, pc)

	out, _, err := Resolve(g, Options{RequestedFeatures: []string{"extra"}, Target: platform.Linux64})
	require.NoError(t, err)
	_, present := out.Nodes[NodeKey{ID: b, Context: ContextNormal}]
	assert.False(t, present, "weak dep-feature token must not itself activate the optional dependency")
}

func TestResolveUnknownFeatureIsFatal(t *testing.T) {
	a := reg("a", "1.0.0")
	pa := &cargomodel.Package{ID: a}
	g := buildGraph(t, a, pa)

	_, _, err := Resolve(g, Options{RequestedFeatures: []string{"does-not-exist"}, Target: platform.Linux64})
	require.Error(t, err)
}

func TestResolveActivatedMissingOptionalDepIsFatal(t *testing.T) {
	a := reg("a", "1.0.0")
	pa := &cargomodel.Package{
		ID: a,
		DeclaredFeatures: map[string][]string{
			"broken": {"dep:nope"},
		},
	}
	g := buildGraph(t, a, pa)

	_, _, err := Resolve(g, Options{RequestedFeatures: []string{"broken"}, Target: platform.Linux64})
	require.Error(t, err)
}

// Determinism: resolving the same graph twice produces the same node set
// and the same active-feature sets.
func TestResolveIsDeterministic(t *testing.T) {
	a, b := reg("a", "1.0.0"), reg("b", "1.0.0")
	pa := &cargomodel.Package{
		ID: a,
		DeclaredFeatures: map[string][]string{
			"default": {"x", "b/y"},
			"x":       {},
		},
		DependencyEdges: []cargomodel.Edge{normalEdge(b, true)},
	}
	pb := &cargomodel.Package{ID: b, DeclaredFeatures: map[string][]string{"y": {}}}
	g := buildGraph(t, a, pa, pb)

	opts := Options{DefaultFeatures: true, Target: platform.Linux64}
	out1, _, err := Resolve(g, opts)
	require.NoError(t, err)
	out2, _, err := Resolve(g, opts)
	require.NoError(t, err)

	assert.Equal(t, len(out1.Nodes), len(out2.Nodes))
	for key, n1 := range out1.Nodes {
		n2, ok := out2.Nodes[key]
		require.True(t, ok)
		assert.Equal(t, n1.ActiveFeatures, n2.ActiveFeatures)
	}
}

// Rename locality: a dependency imported under a rename is looked up by
// its rename for dep-feature tokens, not its crate name.
func TestResolveRenameLocality(t *testing.T) {
	a, b := reg("a", "1.0.0"), reg("b", "1.0.0")
	edge := normalEdge(b, false)
	edge.Rename = "bee"
	pa := &cargomodel.Package{
		ID: a,
		DeclaredFeatures: map[string][]string{
			"default": {"bee/fancy"},
		},
		DependencyEdges: []cargomodel.Edge{edge},
	}
	pb := &cargomodel.Package{ID: b, DeclaredFeatures: map[string][]string{"fancy": {}}}
	g := buildGraph(t, a, pa, pb)

	out, _, err := Resolve(g, Options{DefaultFeatures: true, Target: platform.Linux64})
	require.NoError(t, err)
	bNode := out.Nodes[NodeKey{ID: b, Context: ContextNormal}]
	require.NotNil(t, bNode)
	assert.True(t, bNode.ActiveFeatures["fancy"])
}
