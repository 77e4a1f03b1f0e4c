package cargotoml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoerr"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargomodel"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// A single-crate, no-workspace project: root Cargo.toml is itself the only
// member, one registry dependency with no features declared.
func TestLoadSingleCrateNoFeatures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "leaf"
version = "0.1.0"
edition = "2021"

[dependencies]
libc = "0.2"
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "leaf"
version = "0.1.0"
dependencies = [
 "libc 0.2.139",
]

[[package]]
name = "libc"
version = "0.2.139"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "abc123"
`)

	ws, diags, err := Load(dir, Options{})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, "leaf", ws.Root.Name)
	assert.True(t, ws.Members[ws.Root])
	assert.Len(t, ws.Packages, 2)

	root := ws.Packages[ws.Root]
	require.NotNil(t, root)
	require.Len(t, root.DependencyEdges, 1)
	edge := root.DependencyEdges[0]
	assert.Equal(t, "libc", edge.Target.Name)
	assert.Equal(t, cargomodel.Normal, edge.Kind)
	assert.True(t, edge.UsesDefaultFeatures)

	libc, ok := ws.Packages[edge.Target]
	require.True(t, ok)
	assert.False(t, libc.IsProcMacro)
}

// A two-member workspace, using the `members = ["crates/*"]` glob form, with
// a rename and an optional dependency gated behind a feature.
func TestLoadWorkspaceGlobRenameAndOptionalDep(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "cli"
version = "1.0.0"
edition = "2021"

[dependencies]
core = { path = "../core" }

[workspace]
members = [".", "crates/*"]
`)
	writeFile(t, dir, "crates/core/Cargo.toml", `
[package]
name = "core"
version = "1.0.0"
edition = "2021"

[dependencies]
json = { package = "serde_json", version = "1", optional = true }

[features]
default = []
with-json = ["dep:json"]
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "core"
version = "1.0.0"
dependencies = [
 "serde_json 1.0.100",
]

[[package]]
name = "cli"
version = "1.0.0"
dependencies = [
 "core 1.0.0",
]

[[package]]
name = "serde_json"
version = "1.0.100"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "def456"
`)

	ws, diags, err := Load(dir, Options{})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Len(t, ws.Members, 2)

	var core, cli *cargomodel.Package
	for id, pkg := range ws.Packages {
		switch id.Name {
		case "core":
			core = pkg
		case "cli":
			cli = pkg
		}
	}
	require.NotNil(t, core)
	require.NotNil(t, cli)

	require.Len(t, core.DependencyEdges, 1)
	jsonEdge := core.DependencyEdges[0]
	assert.Equal(t, "serde_json", jsonEdge.Target.Name)
	assert.Equal(t, "json", jsonEdge.Rename)
	assert.True(t, jsonEdge.Optional)
	assert.True(t, core.OptionalDeps["json"])
	assert.True(t, core.ExplicitDepToken["json"], "dep:json token should suppress legacy bare activation")

	require.Len(t, cli.DependencyEdges, 1)
	assert.Equal(t, "core", cli.DependencyEdges[0].Target.Name)
}

// A `[target.'cfg(unix)']` conditional dependency table parses into a
// platform predicate rather than an unconditional edge.
func TestLoadTargetConditionalDependency(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "app"
version = "0.1.0"
edition = "2021"

[target.'cfg(unix)'.dependencies]
nix = "0.26"
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "app"
version = "0.1.0"
dependencies = [
 "nix 0.26.2",
]

[[package]]
name = "nix"
version = "0.26.2"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "ghi789"
`)

	ws, _, err := Load(dir, Options{})
	require.NoError(t, err)
	app := ws.Packages[ws.Root]
	require.Len(t, app.DependencyEdges, 1)
	edge := app.DependencyEdges[0]
	assert.Equal(t, "cfg(unix)", edge.RawPlatformPredicate)
	assert.Empty(t, edge.PlatformUnparseable)
}

// A target selector this adapter cannot interpret (a bare target triple,
// not a cfg(...) expression) is recorded as unparseable rather than
// rejected outright.
func TestLoadUnparseableTargetSelector(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "app"
version = "0.1.0"
edition = "2021"

[target.x86_64-pc-windows-msvc.dependencies]
winapi = "0.3"
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "app"
version = "0.1.0"
dependencies = [
 "winapi 0.3.9",
]

[[package]]
name = "winapi"
version = "0.3.9"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "jkl012"
`)

	ws, _, err := Load(dir, Options{})
	require.NoError(t, err)
	app := ws.Packages[ws.Root]
	require.Len(t, app.DependencyEdges, 1)
	assert.NotEmpty(t, app.DependencyEdges[0].PlatformUnparseable)
}

// A lock entry with no corresponding workspace-member manifest and no
// registry cache hit degrades to an empty feature set rather than failing.
func TestLoadLockOnlyPackageDegrades(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "app"
version = "0.1.0"
edition = "2021"

[dependencies]
rand = "0.8"
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "app"
version = "0.1.0"
dependencies = [
 "rand 0.8.5",
]

[[package]]
name = "rand"
version = "0.8.5"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "mno345"
dependencies = [
 "rand_core 0.6.4",
]

[[package]]
name = "rand_core"
version = "0.6.4"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "pqr678"
`)

	ws, diags, err := Load(dir, Options{CargoHome: filepath.Join(dir, "no-such-cargo-home")})
	require.NoError(t, err)
	assert.Empty(t, diags)

	var rand, randCore *cargomodel.Package
	for id, pkg := range ws.Packages {
		switch id.Name {
		case "rand":
			rand = pkg
		case "rand_core":
			randCore = pkg
		}
	}
	require.NotNil(t, rand)
	require.NotNil(t, randCore)
	assert.Empty(t, rand.DeclaredFeatures)
	require.Len(t, rand.DependencyEdges, 1)
	assert.Equal(t, "rand_core", rand.DependencyEdges[0].Target.Name)
	assert.True(t, rand.DependencyEdges[0].UsesDefaultFeatures)
}

func TestLoadMissingManifestIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir, Options{})
	require.Error(t, err)
	var coreErr *cargoerr.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, cargoerr.ManifestNotFound, coreErr.Kind)
}

func TestLoadMissingLockfileIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "app"
version = "0.1.0"
edition = "2021"
`)
	_, _, err := Load(dir, Options{})
	require.Error(t, err)
	var coreErr *cargoerr.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, cargoerr.LockfileOutOfSync, coreErr.Kind)
}

func TestLoadRootMissingFromLockIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "app"
version = "0.1.0"
edition = "2021"
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "other"
version = "9.9.9"
`)
	_, _, err := Load(dir, Options{})
	require.Error(t, err)
	var coreErr *cargoerr.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, cargoerr.LockfileOutOfSync, coreErr.Kind)
}

func TestLoadUnrecognizedLockSourceIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "app"
version = "0.1.0"
edition = "2021"
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "app"
version = "0.1.0"

[[package]]
name = "weird"
version = "1.0.0"
source = "mystery+nowhere"
`)
	_, _, err := Load(dir, Options{})
	require.Error(t, err)
	var coreErr *cargoerr.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, cargoerr.UnknownSource, coreErr.Kind)
}

func TestParseDepLineForms(t *testing.T) {
	cases := []struct {
		raw  string
		want parsedDepLine
	}{
		{"serde", parsedDepLine{Name: "serde"}},
		{"serde 1.0.100", parsedDepLine{Name: "serde", Version: "1.0.100"}},
		{"serde 1.0.100 (registry+https://github.com/rust-lang/crates.io-index)",
			parsedDepLine{Name: "serde", Version: "1.0.100", Source: "registry+https://github.com/rust-lang/crates.io-index"}},
	}
	for _, c := range cases {
		got, ok := parseDepLine(c.raw)
		require.True(t, ok, c.raw)
		assert.Equal(t, c.want, got, c.raw)
	}
}
