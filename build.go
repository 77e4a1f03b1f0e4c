// Package cargonbuild wires the four core components — the cargotoml
// adapter, the depgraph builder, the feature resolver, and the nixemit
// serializer — into the single entry point spec.md section 6 describes:
// a workspace root directory and a feature request in, an emitted Nix
// expression and any non-fatal diagnostics out.
//
// Grounded on the teacher's deducers.go: Build plays the role of
// callManager, merging a caller's inbound context with an internally
// derived one at each component boundary via constext.Cons so a caller
// cancellation is observed between phases even though none of the
// phases themselves block on I/O long enough to need mid-phase
// preemption.
package cargonbuild

import (
	"context"
	"io"

	"github.com/sdboyer/constext"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoerr"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargotoml"
	"github.com/shuttle-hq/cargo-nbuild/internal/depgraph"
	"github.com/shuttle-hq/cargo-nbuild/internal/nixemit"
	"github.com/shuttle-hq/cargo-nbuild/internal/platform"
	"github.com/shuttle-hq/cargo-nbuild/internal/resolve"
)

// Options collects every caller-supplied input to a build, per spec.md
// section 6's "a workspace root, a set of requested features, a
// default-features flag, and a target description".
type Options struct {
	RequestedFeatures []string
	DefaultFeatures   bool
	Target            platform.Target
	CargoHome         string
	EmitCrateBin      bool

	// Trace, forwarded to resolve.Options.Trace, is the --verbose hook
	// of SPEC_FULL.md section 10. Nil disables it.
	Trace io.Writer
}

// Builder owns the internally-derived lifecycle context that every Build
// call's inbound context is merged with, the way the teacher's
// callManager owns cm.ctx independently of any one inbound call.
type Builder struct {
	base   context.Context
	cancel context.CancelFunc
}

// New returns a Builder whose internal lifecycle is tied to ctx: canceling
// ctx, or calling the returned Builder's Close, ends every call merged
// with it.
func New(ctx context.Context) *Builder {
	base, cancel := context.WithCancel(ctx)
	return &Builder{base: base, cancel: cancel}
}

// Close ends the Builder's internal lifecycle context.
func (b *Builder) Close() {
	b.cancel()
}

// Build runs the adapter, the graph builder, the resolver, and the
// emitter in sequence against workspaceRoot, merging ctx with the
// Builder's internal context at each of the three component boundaries
// and checking for cancellation between phases. The returned error, when
// non-nil, is always a *cargoerr.CoreError.
func (b *Builder) Build(ctx context.Context, workspaceRoot string, opts Options) (string, []cargoerr.Diagnostic, error) {
	var diags []cargoerr.Diagnostic

	loadCtx, loadDone := constext.Cons(ctx, b.base)
	defer loadDone()
	if err := loadCtx.Err(); err != nil {
		return "", diags, cargoerr.New(cargoerr.ManifestNotFound, "build canceled before loading workspace: "+err.Error())
	}
	ws, loadDiags, err := cargotoml.Load(workspaceRoot, cargotoml.Options{CargoHome: opts.CargoHome})
	diags = append(diags, loadDiags...)
	if err != nil {
		return "", diags, err
	}

	g, err := depgraph.Build(ws.Root, ws.Members, ws.Packages)
	if err != nil {
		return "", diags, err
	}

	resolveCtx, resolveDone := constext.Cons(ctx, b.base)
	defer resolveDone()
	if err := resolveCtx.Err(); err != nil {
		return "", diags, cargoerr.For(cargoerr.CyclicGraph, ws.Root, "build canceled before resolving features: "+err.Error())
	}
	resolved, resolveDiags, err := resolve.Resolve(g, resolve.Options{
		RequestedFeatures: opts.RequestedFeatures,
		DefaultFeatures:   opts.DefaultFeatures,
		Target:            opts.Target,
		Trace:             opts.Trace,
	})
	diags = append(diags, resolveDiags...)
	if err != nil {
		return "", diags, err
	}

	emitCtx, emitDone := constext.Cons(ctx, b.base)
	defer emitDone()
	if err := emitCtx.Err(); err != nil {
		return "", diags, cargoerr.For(cargoerr.EmitterIO, ws.Root, "build canceled before emitting expression: "+err.Error())
	}
	text, err := nixemit.Render(resolved, nixemit.Options{EmitCrateBin: opts.EmitCrateBin})
	if err != nil {
		return "", diags, err
	}

	return text, diags, nil
}
