// Package cargoid defines the canonical identity of a crate and the
// derivation-key scheme the emitter uses to name it in the generated Nix
// expression.
//
// A PackageId plays the role that gps.ProjectIdentifier played for the
// teacher this design is descended from: it is the thing every other layer
// keys its maps on. Unlike a ProjectIdentifier, a PackageId's equality is
// fully structural over three fields, because Cargo (unlike `go get`) lets
// the same name/version pair exist more than once as long as the sources
// differ.
package cargoid

import (
	"fmt"
	"strings"
)

// SourceKind distinguishes how a crate's source is addressed.
type SourceKind uint8

const (
	// LocalPath is a workspace member or a path dependency.
	LocalPath SourceKind = iota
	// Registry is a crates.io-style registry dependency.
	Registry
	// Git is a dependency pinned to a specific revision of a git repository.
	Git
)

func (k SourceKind) String() string {
	switch k {
	case LocalPath:
		return "path"
	case Registry:
		return "registry"
	case Git:
		return "git"
	default:
		return "unknown"
	}
}

// Source identifies where a crate's content comes from. Construct one with
// LocalSource, RegistrySource, or GitSource. The zero value equals
// LocalSource(""): a local source with no path, which is the Source the
// cargotoml adapter records for workspace members and path dependencies.
type Source struct {
	Kind SourceKind

	// Path is the crate root for LocalPath sources, or "" when none was
	// recorded (the adapter keeps a member's directory on the Package's
	// LocalSrc instead).
	Path string

	// Registry is set for Registry sources: the registry's index URL.
	Registry string

	// URL and Rev are set for Git sources.
	URL string
	Rev string
}

// LocalSource builds a Source for a workspace member or path dependency.
func LocalSource(absPath string) Source {
	return Source{Kind: LocalPath, Path: absPath}
}

// RegistrySource builds a Source for a registry dependency.
func RegistrySource(registryURL string) Source {
	return Source{Kind: Registry, Registry: registryURL}
}

// GitSource builds a Source for a git dependency pinned at rev.
func GitSource(url, rev string) Source {
	return Source{Kind: Git, URL: url, Rev: rev}
}

// Eq reports whether two Sources are structurally identical.
func (s Source) Eq(o Source) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case LocalPath:
		return s.Path == o.Path
	case Registry:
		return s.Registry == o.Registry
	case Git:
		return s.URL == o.URL && s.Rev == o.Rev
	default:
		return false
	}
}

func (s Source) String() string {
	switch s.Kind {
	case LocalPath:
		return fmt.Sprintf("path+%s", s.Path)
	case Registry:
		return fmt.Sprintf("registry+%s", s.Registry)
	case Git:
		return fmt.Sprintf("git+%s#%s", s.URL, s.Rev)
	default:
		return "unknown-source"
	}
}

// PackageId is the triple that uniquely names a locked crate: its name,
// its resolved version, and the source it was pinned from. Equality is
// structural over all three fields, matching spec.md's "PackageIds are
// unique within a lockfile".
type PackageId struct {
	Name    string
	Version string
	Source  Source
}

// Eq reports structural equality.
func (id PackageId) Eq(o PackageId) bool {
	return id.Name == o.Name && id.Version == o.Version && id.Source.Eq(o.Source)
}

// Less provides a total, stable order over PackageIds: by name, then
// version, then the full string form.
func (id PackageId) Less(o PackageId) bool {
	if id.Name != o.Name {
		return id.Name < o.Name
	}
	if id.Version != o.Version {
		return id.Version < o.Version
	}
	return id.String() < o.String()
}

func (id PackageId) String() string {
	return fmt.Sprintf("%s@%s (%s)", id.Name, id.Version, id.Source)
}

// sanitize replaces every rune that cannot appear in a Nix `let`-binding
// identifier with an underscore, per spec.md section 4.1.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
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

// DerivationKey computes the stable identifier used for a package's
// `let`-binding in the emitted Nix expression: sanitize(name) + "_" +
// sanitize(version). The root workspace member is emitted unsuffixed by
// its caller (the emitter), not by this function: DerivationKey always
// includes the version suffix, and the emitter special-cases the root.
func DerivationKey(id PackageId) string {
	return sanitize(id.Name) + "_" + sanitize(id.Version)
}
