// Command cargo-nbuild emits a Nix expression for a Cargo workspace
// member's dependency graph, per SPEC_FULL.md section 7.
//
// Grounded on the teacher's main.go: a flag.FlagSet built up front and a
// logf-style stderr writer, reduced to the single command this tool
// needs instead of the teacher's command-interface dispatch table (spec
// names "a single command with no required arguments", so there is no
// subcommand registry to build here).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	cargonbuild "github.com/shuttle-hq/cargo-nbuild"
	"github.com/shuttle-hq/cargo-nbuild/internal/cargoerr"
	"github.com/shuttle-hq/cargo-nbuild/internal/platform"
	"github.com/shuttle-hq/cargo-nbuild/log"
)

// featureList accumulates repeated -feature flags, per spec.md section 6.
type featureList []string

func (f *featureList) String() string { return strings.Join(*f, ",") }

func (f *featureList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cargo-nbuild", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var features featureList
	fs.Var(&features, "feature", "activate a feature (repeatable)")
	noDefault := fs.Bool("no-default-features", false, "disable the crate's default feature set")
	targetFlag := fs.String("target", "", "host triple override for platform predicates (default: x86_64-unknown-linux-gnu)")
	output := fs.String("o", "", "output path (default: stdout)")
	verbose := fs.Bool("verbose", false, "log intermediate resolution decisions")
	fs.Usage = func() { usage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := log.New(stderr)

	workspaceRoot := "."
	if rest := fs.Args(); len(rest) > 0 {
		workspaceRoot = rest[0]
	}

	target := platform.Linux64
	if *targetFlag != "" {
		t, err := platform.ParseTriple(*targetFlag)
		if err != nil {
			logger.Logf("cargo-nbuild: %v\n", err)
			return 1
		}
		target = t
	}

	var trace io.Writer
	if *verbose {
		trace = stderr
	}

	b := cargonbuild.New(context.Background())
	defer b.Close()

	text, diags, err := b.Build(context.Background(), workspaceRoot, cargonbuild.Options{
		RequestedFeatures: []string(features),
		DefaultFeatures:   !*noDefault,
		Target:            target,
		Trace:             trace,
	})
	for _, d := range diags {
		logger.Diagnosef(d)
	}
	if err != nil {
		var coreErr *cargoerr.CoreError
		if errors.As(err, &coreErr) {
			logger.Logf("cargo-nbuild: %s\n", coreErr.Error())
		} else {
			logger.Logf("cargo-nbuild: %v\n", err)
		}
		return 1
	}

	w := stdout
	if *output != "" {
		f, ferr := os.Create(*output)
		if ferr != nil {
			logger.Logf("cargo-nbuild: %v\n", ferr)
			return 1
		}
		defer f.Close()
		w = f
	}
	fmt.Fprint(w, text)
	return 0
}

func usage(fs *flag.FlagSet, stderr io.Writer) {
	fmt.Fprintln(stderr, "Usage: cargo-nbuild [flags] [workspace-dir]")
	fmt.Fprintln(stderr)
	fmt.Fprintln(stderr, "Emits a Nix expression for a Cargo workspace member's dependency graph.")
	fmt.Fprintln(stderr, "workspace-dir defaults to the current directory.")
	fmt.Fprintln(stderr)
	fmt.Fprintln(stderr, "Flags:")
	fs.PrintDefaults()
}
