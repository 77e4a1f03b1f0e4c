// Package cargoerr defines the fatal error taxonomy shared by every core
// component, per spec.md section 7. Every *CoreError carries the PackageId
// (and, where relevant, a feature or edge name) that triggered it, so a
// caller never has to re-derive "which package" from a bare error string.
//
// This mirrors the teacher's errors.go, which gave every solver failure a
// structured type instead of a formatted string; the difference is that
// gps's failures described constraint disjointness across a version
// lattice, while these describe a fixed, small set of adapter/resolver/
// emitter failure modes.
package cargoerr

import (
	"fmt"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoid"
)

// Kind enumerates the fatal error kinds named in spec.md section 7.
type Kind string

const (
	ManifestNotFound            Kind = "ManifestNotFound"
	LockfileOutOfSync           Kind = "LockfileOutOfSync"
	UnknownSource               Kind = "UnknownSource"
	CyclicGraph                 Kind = "CyclicGraph"
	UnknownFeature              Kind = "UnknownFeature"
	ActivatedMissingOptionalDep Kind = "ActivatedMissingOptionalDep"
	DuplicateDerivationKey      Kind = "DuplicateDerivationKey"
	EmitterIO                   Kind = "EmitterIO"
)

// CoreError is the single exported fatal error type. All component
// boundaries return this type (wrapped with github.com/pkg/errors where a
// lower-level error is being lifted) rather than ad-hoc strings.
type CoreError struct {
	Kind    Kind
	Package cargoid.PackageId
	// Feature, when non-empty, is printed by Error. None of this package's
	// constructors set it; the resolver names the offending feature or
	// dependency in Detail instead.
	Feature string
	// Detail is a short human-readable elaboration; for UnknownFeature and
	// ActivatedMissingOptionalDep it is where the feature or dependency
	// name appears.
	Detail string
	// Cause is the lower-level error this one was lifted from, if any.
	Cause error
}

func (e *CoreError) Error() string {
	base := fmt.Sprintf("%s: %s", e.Kind, e.Package)
	if e.Feature != "" {
		base += fmt.Sprintf(" (feature %q)", e.Feature)
	}
	if e.Detail != "" {
		base += ": " + e.Detail
	}
	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}
	return base
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// New constructs a CoreError with no package context, for failures that
// occur before any package identity is known (e.g. ManifestNotFound on the
// workspace root itself).
func New(kind Kind, detail string) *CoreError {
	return &CoreError{Kind: kind, Detail: detail}
}

// For constructs a CoreError attributed to a specific package.
func For(kind Kind, pkg cargoid.PackageId, detail string) *CoreError {
	return &CoreError{Kind: kind, Package: pkg, Detail: detail}
}

// Wrap lifts a lower-level error into a CoreError of the given kind,
// attributed to pkg.
func Wrap(kind Kind, pkg cargoid.PackageId, cause error) *CoreError {
	return &CoreError{Kind: kind, Package: pkg, Cause: cause}
}

// Diagnostic is a non-fatal warning returned alongside a successful result,
// per spec.md section 9 ("diagnostics without ambient state"): callers
// receive a slice of these instead of the core writing to a log sink it
// owns.
type Diagnostic struct {
	Package cargoid.PackageId
	Message string
}

func (d Diagnostic) String() string {
	if d.Package == (cargoid.PackageId{}) {
		return d.Message
	}
	return fmt.Sprintf("%s: %s", d.Package, d.Message)
}
