package nixemit

import (
	"fmt"
	"strings"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargomodel"
)

// sourceFilterPreamble is emitted once, before any derivation, whenever the
// graph contains at least one local (workspace-member or path) package.
// It filters out version-control and build-output cruft so a local crate's
// src doesn't needlessly invalidate the Nix store path on every `cargo
// build`.
const sourceFilterPreamble = `  sourceFilter = name: type:
    let baseName = baseNameOf (toString name); in
    ! (
      (type == "directory" && (baseName == ".git" || baseName == "target")) ||
      baseName == ".gitignore" ||
      (type == "symlink" && pkgs.lib.hasPrefix "result" baseName)
    );
`

// fetchcratePreamble is emitted once whenever the graph contains at least
// one registry-sourced package.
const fetchcratePreamble = `  fetchcrate = { name, version, sha256 }:
    pkgs.fetchurl {
      url = "https://crates.io/api/v1/crates/${name}/${version}/download";
      inherit sha256;
    };
`

func writeDerivation(b *strings.Builder, p plannedNode, opts Options) {
	fmt.Fprintf(b, "  %s = pkgs.buildRustCrate rec {\n", p.derivKey)
	fmt.Fprintf(b, "    crateName = %s;\n", quote(p.pkg.ID.Name))
	fmt.Fprintf(b, "    version = %s;\n", quote(p.pkg.ID.Version))
	fmt.Fprintf(b, "    src = %s;\n", srcExpr(p.pkg))
	if p.pkg.ID.Source.Kind == cargoid.Registry {
		fmt.Fprintf(b, "    sha256 = %s;\n", quote(p.pkg.RegistrySha))
	}
	fmt.Fprintf(b, "    edition = %s;\n", quote(p.pkg.Edition))
	if len(p.deps) > 0 {
		fmt.Fprintf(b, "    dependencies = [ %s ];\n", strings.Join(p.deps, " "))
	}
	if len(p.buildDeps) > 0 {
		fmt.Fprintf(b, "    buildDependencies = [ %s ];\n", strings.Join(p.buildDeps, " "))
	}
	if len(p.features) > 0 {
		quoted := make([]string, len(p.features))
		for i, f := range p.features {
			quoted[i] = quote(f)
		}
		fmt.Fprintf(b, "    features = [ %s ];\n", strings.Join(quoted, " "))
	}
	if p.pkg.LibPath != "" {
		fmt.Fprintf(b, "    libPath = %s;\n", quote(p.pkg.LibPath))
	}
	if p.pkg.BuildScriptPath != "" {
		fmt.Fprintf(b, "    build = %s;\n", quote(p.pkg.BuildScriptPath))
	}
	if p.pkg.IsProcMacro {
		b.WriteString("    procMacro = true;\n")
	}
	if len(p.renames) > 0 {
		pairs := make([]string, len(p.renames))
		for i, r := range p.renames {
			pairs[i] = fmt.Sprintf("%s = %s;", quote(r.from), quote(r.to))
		}
		fmt.Fprintf(b, "    crateRenames = { %s };\n", strings.Join(pairs, " "))
	}
	if opts.EmitCrateBin && !p.isRoot {
		b.WriteString("    crateBin = [];\n")
	}
	b.WriteString("  };\n")
}

// srcExpr renders the `src` attribute. Local (workspace-member or path)
// packages are wrapped in sourceFilter so the build doesn't re-trigger on
// scratch files; registry packages go through fetchcrate; a git-pinned
// package is fetched inline with builtins.fetchGit and then cleaned the
// same way a local source is, since once fetched it behaves like one.
func srcExpr(pkg *cargomodel.Package) string {
	switch pkg.ID.Source.Kind {
	case cargoid.Registry:
		return fmt.Sprintf("fetchcrate { name = %s; version = %s; sha256 = %s; }",
			quote(pkg.ID.Name), quote(pkg.ID.Version), quote(pkg.RegistrySha))
	case cargoid.Git:
		fetched := fmt.Sprintf("builtins.fetchGit { url = %s; rev = %s; }",
			quote(pkg.ID.Source.URL), quote(pkg.ID.Source.Rev))
		return fmt.Sprintf("pkgs.lib.cleanSourceWith { filter = sourceFilter; src = %s; }", fetched)
	default:
		return fmt.Sprintf("pkgs.lib.cleanSourceWith { filter = sourceFilter; src = %s; }", pkg.LocalSrc)
	}
}

// quote renders a Go string as a double-quoted Nix string literal,
// escaping backslashes and double quotes per spec.md section 4.5.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
