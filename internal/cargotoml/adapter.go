package cargotoml

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoerr"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargomodel"
	"github.com/shuttle-hq/cargo-nbuild/internal/platform"
)

// Options configures how the adapter locates dependency metadata that a
// Cargo.lock alone does not carry.
type Options struct {
	// CargoHome overrides the registry cache root used by
	// findCachedManifest. Defaults to $CARGO_HOME, then $HOME/.cargo.
	CargoHome string
}

// Workspace is the adapter's normalized output: spec.md section 4.2's
// (root package, all packages by id, workspace members) triple.
type Workspace struct {
	Root     cargoid.PackageId
	Members  map[cargoid.PackageId]bool
	Packages map[cargoid.PackageId]*cargomodel.Package
}

type member struct {
	dir string
	man *rawManifest
}

// Load reads workspaceRoot's Cargo.toml and Cargo.lock (and every
// workspace member's own Cargo.toml) and normalizes them into a
// Workspace, per spec.md section 4.2.
func Load(workspaceRoot string, opts Options) (*Workspace, []cargoerr.Diagnostic, error) {
	cargoHome := opts.CargoHome
	if cargoHome == "" {
		cargoHome = os.Getenv("CARGO_HOME")
	}
	if cargoHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cargoHome = filepath.Join(home, ".cargo")
		}
	}

	rootManifest, err := readManifest(filepath.Join(workspaceRoot, "Cargo.toml"))
	if err != nil {
		return nil, nil, err
	}
	if rootManifest.Package == nil {
		return nil, nil, cargoerr.New(cargoerr.ManifestNotFound, fmt.Sprintf("%s has no [package] table", workspaceRoot))
	}

	members, err := loadMembers(workspaceRoot, rootManifest)
	if err != nil {
		return nil, nil, err
	}

	lock, err := readLockfile(filepath.Join(workspaceRoot, "Cargo.lock"))
	if err != nil {
		return nil, nil, err
	}

	memberVersionKey := make(map[string]member, len(members)) // "name@version" -> member
	for _, m := range members {
		memberVersionKey[m.man.Package.Name+"@"+m.man.Package.Version] = m
	}

	ids := make([]cargoid.PackageId, len(lock.Packages))
	byName := make(map[string][]cargoid.PackageId)
	for i := range lock.Packages {
		lp := &lock.Packages[i]
		src, err := resolveSource(lp.Source)
		if err != nil {
			return nil, nil, cargoerr.For(cargoerr.UnknownSource, cargoid.PackageId{Name: lp.Name, Version: lp.Version}, err.Error())
		}
		id := cargoid.PackageId{Name: lp.Name, Version: lp.Version, Source: src}
		ids[i] = id
		byName[lp.Name] = append(byName[lp.Name], id)
	}

	packages := make(map[cargoid.PackageId]*cargomodel.Package, len(lock.Packages))
	var diags []cargoerr.Diagnostic

	for i := range lock.Packages {
		lp := &lock.Packages[i]
		id := ids[i]

		if m, ok := memberVersionKey[lp.Name+"@"+lp.Version]; ok {
			pkg, err := buildManifestPackage(id, m.dir, m.man, byName)
			if err != nil {
				return nil, nil, err
			}
			pkg.LocalSrc = m.dir
			packages[id] = pkg
			continue
		}

		pkg, diag := buildLockOnlyPackage(id, lp, cargoHome, byName)
		if diag != nil {
			diags = append(diags, *diag)
		}
		packages[id] = pkg
	}

	rootCandidates := byName[rootManifest.Package.Name]
	var rootID cargoid.PackageId
	found := false
	for _, c := range rootCandidates {
		if c.Version == rootManifest.Package.Version {
			rootID = c
			found = true
			break
		}
	}
	if !found {
		return nil, diags, cargoerr.New(cargoerr.LockfileOutOfSync, fmt.Sprintf("root package %s@%s has no lock entry", rootManifest.Package.Name, rootManifest.Package.Version))
	}

	memberSet := make(map[cargoid.PackageId]bool, len(members))
	for _, m := range members {
		for _, c := range byName[m.man.Package.Name] {
			if c.Version == m.man.Package.Version {
				memberSet[c] = true
				break
			}
		}
	}

	return &Workspace{Root: rootID, Members: memberSet, Packages: packages}, diags, nil
}

func loadMembers(workspaceRoot string, rootManifest *rawManifest) ([]member, error) {
	dirs := []string{workspaceRoot}
	if rootManifest.Workspace != nil {
		for _, pattern := range rootManifest.Workspace.Members {
			expanded, err := expandMemberPattern(workspaceRoot, pattern)
			if err != nil {
				return nil, cargoerr.Wrap(cargoerr.ManifestNotFound, cargoid.PackageId{}, err)
			}
			dirs = append(dirs, expanded...)
		}
	}

	seen := make(map[string]bool, len(dirs))
	var members []member
	for _, dir := range dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true

		man := rootManifest
		if dir != workspaceRoot {
			m, err := readManifest(filepath.Join(dir, "Cargo.toml"))
			if err != nil {
				return nil, err
			}
			man = m
		}
		if man.Package == nil {
			continue
		}
		members = append(members, member{dir: dir, man: man})
	}
	return members, nil
}

func readManifest(path string) (*rawManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cargoerr.New(cargoerr.ManifestNotFound, errors.Wrapf(err, "reading %s", path).Error())
	}
	var man rawManifest
	if err := toml.Unmarshal(data, &man); err != nil {
		return nil, cargoerr.New(cargoerr.ManifestNotFound, errors.Wrapf(err, "parsing %s", path).Error())
	}
	return &man, nil
}

func readLockfile(path string) (*rawLockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cargoerr.New(cargoerr.LockfileOutOfSync, errors.Wrapf(err, "reading %s", path).Error())
	}
	var lock rawLockfile
	if err := toml.Unmarshal(data, &lock); err != nil {
		return nil, cargoerr.New(cargoerr.LockfileOutOfSync, errors.Wrapf(err, "parsing %s", path).Error())
	}
	return &lock, nil
}

// resolveSource maps a Cargo.lock `source` string to a cargoid.Source. An
// empty source string means a local path or workspace-member dependency;
// the returned Source carries no path. Load records a workspace member's
// directory on its Package's LocalSrc and leaves the PackageId as is.
func resolveSource(raw string) (cargoid.Source, error) {
	switch {
	case raw == "":
		return cargoid.LocalSource(""), nil
	case strings.HasPrefix(raw, "registry+"):
		return cargoid.RegistrySource(strings.TrimPrefix(raw, "registry+")), nil
	case strings.HasPrefix(raw, "git+"):
		rest := strings.TrimPrefix(raw, "git+")
		url, rev := rest, ""
		if idx := strings.LastIndex(rest, "#"); idx >= 0 {
			url, rev = rest[:idx], rest[idx+1:]
		}
		return cargoid.GitSource(url, rev), nil
	default:
		return cargoid.Source{}, errors.Errorf("unrecognized lock source %q", raw)
	}
}

// buildManifestPackage normalizes a workspace member's raw manifest into a
// cargomodel.Package, resolving every dependency declaration to the
// concrete PackageId the lockfile pinned via name + semver-constraint
// matching (falling back to source-kind disambiguation for path/git deps
// with more than one lock entry sharing a name).
func buildManifestPackage(id cargoid.PackageId, dir string, man *rawManifest, byName map[string][]cargoid.PackageId) (*cargomodel.Package, error) {
	edition := man.Package.Edition
	if edition == "" {
		edition = "2015"
	}

	pkg := &cargomodel.Package{
		ID:               id,
		Edition:          edition,
		DeclaredFeatures: man.Features,
		OptionalDeps:     make(map[string]bool),
		ExplicitDepToken: make(map[string]bool),
	}
	if pkg.DeclaredFeatures == nil {
		pkg.DeclaredFeatures = make(map[string][]string)
	}

	if man.Lib != nil {
		pkg.IsProcMacro = man.Lib.ProcMacro
		pkg.LibPath = man.Lib.Path
	}

	pkg.BuildScriptPath = man.Package.Build
	if pkg.BuildScriptPath == "" {
		if info, err := os.Stat(filepath.Join(dir, "build.rs")); err == nil && !info.IsDir() {
			pkg.BuildScriptPath = "build.rs"
		}
	}

	for _, feats := range pkg.DeclaredFeatures {
		for _, tok := range feats {
			if name, ok := strings.CutPrefix(tok, "dep:"); ok {
				pkg.ExplicitDepToken[name] = true
			}
		}
	}

	type builtEdge struct {
		name string
		edge cargomodel.Edge
	}
	var built []builtEdge

	addTable := func(tbl map[string]Dependency, kind cargomodel.EdgeKind, pred platform.Predicate, rawPred, unparseable string) error {
		for key, dep := range tbl {
			target, err := resolveManifestDep(key, dep, byName)
			if err != nil {
				return cargoerr.For(cargoerr.LockfileOutOfSync, id, err.Error())
			}
			rename := ""
			if dep.Package != "" {
				rename = key
			}
			if dep.Optional {
				importName := rename
				if importName == "" {
					importName = key
				}
				pkg.OptionalDeps[importName] = true
			}
			built = append(built, builtEdge{
				name: key,
				edge: cargomodel.Edge{
					Target:               target,
					Kind:                 kind,
					Rename:               rename,
					Optional:             dep.Optional,
					UsesDefaultFeatures:  dep.DefaultFeatures,
					ExplicitFeatures:     dep.Features,
					PlatformPredicate:    pred,
					RawPlatformPredicate: rawPred,
					PlatformUnparseable:  unparseable,
				},
			})
		}
		return nil
	}

	if err := addTable(man.Deps, cargomodel.Normal, platform.Always, "", ""); err != nil {
		return nil, err
	}
	if err := addTable(man.DevDeps, cargomodel.Dev, platform.Always, "", ""); err != nil {
		return nil, err
	}
	if err := addTable(man.BuildDeps, cargomodel.Build, platform.Always, "", ""); err != nil {
		return nil, err
	}

	targetKeys := make([]string, 0, len(man.Target))
	for k := range man.Target {
		targetKeys = append(targetKeys, k)
	}
	sort.Strings(targetKeys)
	for _, key := range targetKeys {
		tt := man.Target[key]
		pred, rawPred, unparseable := parseTargetSelector(key)
		if err := addTable(tt.Deps, cargomodel.Normal, pred, rawPred, unparseable); err != nil {
			return nil, err
		}
		if err := addTable(tt.DevDeps, cargomodel.Dev, pred, rawPred, unparseable); err != nil {
			return nil, err
		}
		if err := addTable(tt.BuildDeps, cargomodel.Build, pred, rawPred, unparseable); err != nil {
			return nil, err
		}
	}

	sort.Slice(built, func(i, j int) bool {
		if built[i].edge.Kind != built[j].edge.Kind {
			return built[i].edge.Kind < built[j].edge.Kind
		}
		return built[i].name < built[j].name
	})
	pkg.DependencyEdges = make([]cargomodel.Edge, len(built))
	for i, b := range built {
		pkg.DependencyEdges[i] = b.edge
	}

	return pkg, nil
}

// parseTargetSelector turns a `[target.'...']` key into a platform
// predicate. Only the `cfg(...)` form is understood; a bare target-triple
// selector (e.g. `x86_64-pc-windows-msvc`) has no analogue in the host
// description this core resolves against, so it is reported as
// unparseable and its edges are conservatively dropped with a diagnostic.
func parseTargetSelector(key string) (platform.Predicate, string, string) {
	if strings.HasPrefix(key, "cfg(") && strings.HasSuffix(key, ")") {
		body := key[len("cfg(") : len(key)-1]
		pred, err := platform.Parse(body)
		if err != nil {
			return platform.Predicate{}, key, key
		}
		return pred, key, ""
	}
	return platform.Predicate{}, key, key
}

// resolveManifestDep matches a single manifest dependency declaration to
// the PackageId the lockfile pinned for it.
func resolveManifestDep(key string, dep Dependency, byName map[string][]cargoid.PackageId) (cargoid.PackageId, error) {
	name := dep.Package
	if name == "" {
		name = key
	}
	candidates := byName[name]
	if len(candidates) == 0 {
		return cargoid.PackageId{}, errors.Errorf("dependency %q (crate %q) has no matching lock entry", key, name)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	if dep.VersionReq != "" {
		if constraint, err := semver.NewConstraint(dep.VersionReq); err == nil {
			for _, c := range candidates {
				if v, err := semver.NewVersion(c.Version); err == nil && constraint.Check(v) {
					return c, nil
				}
			}
		}
	}
	for _, c := range candidates {
		if dep.Path != "" && c.Source.Kind == cargoid.LocalPath {
			return c, nil
		}
		if dep.Git != "" && c.Source.Kind == cargoid.Git {
			return c, nil
		}
	}
	return cargoid.PackageId{}, errors.Errorf("dependency %q (crate %q) did not disambiguate among %d lock entries", key, name, len(candidates))
}

// buildLockOnlyPackage synthesizes a Package for a non-workspace-member
// lock entry. When the registry cache holds the entry's own manifest, its
// edition, features, lib settings and build script are read from it;
// otherwise its declared features are unknown (an empty set — "default"
// still resolves as a harmless no-op per the resolver's always-valid-
// default rule). In both cases its dependency edges are derived from the
// lockfile's own compact
// dependency-line list, which does not distinguish edge kind: every such
// edge is treated as an unconditional Normal dependency with default
// features, the same approximation Cargo itself falls back to when a
// dependency graph must be reconstructed without its source manifest.
func buildLockOnlyPackage(id cargoid.PackageId, lp *rawLockPackage, cargoHome string, byName map[string][]cargoid.PackageId) (*cargomodel.Package, *cargoerr.Diagnostic) {
	pkg := &cargomodel.Package{
		ID:               id,
		Edition:          "2015",
		DeclaredFeatures: make(map[string][]string),
		OptionalDeps:     make(map[string]bool),
		ExplicitDepToken: make(map[string]bool),
		RegistrySha:      lp.Checksum,
	}

	if dir, ok := findCachedManifest(cargoHome, lp.Name, lp.Version); ok {
		if man, err := readManifest(filepath.Join(dir, "Cargo.toml")); err == nil && man.Package != nil {
			if man.Package.Edition != "" {
				pkg.Edition = man.Package.Edition
			}
			if man.Features != nil {
				pkg.DeclaredFeatures = man.Features
			}
			if man.Lib != nil {
				pkg.IsProcMacro = man.Lib.ProcMacro
				pkg.LibPath = man.Lib.Path
			}
			pkg.BuildScriptPath = man.Package.Build
			if pkg.BuildScriptPath == "" {
				if info, err := os.Stat(filepath.Join(dir, "build.rs")); err == nil && !info.IsDir() {
					pkg.BuildScriptPath = "build.rs"
				}
			}
		}
	}

	var diag *cargoerr.Diagnostic
	for _, raw := range lp.Dependencies {
		target, err := resolveLockRef(raw, byName)
		if err != nil {
			diag = &cargoerr.Diagnostic{Package: id, Message: err.Error()}
			continue
		}
		pkg.DependencyEdges = append(pkg.DependencyEdges, cargomodel.Edge{
			Target:              target,
			Kind:                cargomodel.Normal,
			UsesDefaultFeatures: true,
			PlatformPredicate:   platform.Always,
		})
	}

	return pkg, diag
}

// resolveLockRef resolves one entry of a lock package's own compact
// `dependencies` list (the "name", "name version", or "name version
// (source)" grammar parseDepLine understands) to the PackageId already
// registered for it.
func resolveLockRef(raw string, byName map[string][]cargoid.PackageId) (cargoid.PackageId, error) {
	parsed, ok := parseDepLine(raw)
	if !ok {
		return cargoid.PackageId{}, errors.Errorf("could not parse lock dependency line %q", raw)
	}
	candidates := byName[parsed.Name]
	if len(candidates) == 0 {
		return cargoid.PackageId{}, errors.Errorf("lock dependency line %q names a package with no lock entry", raw)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	for _, c := range candidates {
		if parsed.Version != "" && c.Version != parsed.Version {
			continue
		}
		if parsed.Source != "" {
			if match, err := resolveSource(parsed.Source); err != nil || !c.Source.Eq(match) {
				continue
			}
		}
		return c, nil
	}
	return cargoid.PackageId{}, errors.Errorf("lock dependency line %q did not disambiguate among %d entries named %q", raw, len(candidates), parsed.Name)
}
