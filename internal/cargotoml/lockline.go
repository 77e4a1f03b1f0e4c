package cargotoml

import "regexp"

// depLineRe parses a Cargo.lock `[[package]].dependencies` entry, which
// takes one of three forms depending on how ambiguous the bare name is
// within the lockfile: "name", "name version", or "name version
// (source)". Generalized from
// other_examples/1a872d33_adam-azarchs-cargo-depsgraph__checkdeps.go.go's
// depsRe, which only handled the latter two.
var depLineRe = regexp.MustCompile(`^(\S+?)(?:\s+(\S+))?(?:\s+\(([^)]+)\))?$`)

// parsedDepLine is one decoded dependency reference from a lock entry.
type parsedDepLine struct {
	Name    string
	Version string // "" if elided (name was unambiguous in the lockfile)
	Source  string // "" if elided (a path/workspace dependency)
}

// parseDepLine decodes raw per depLineRe, or reports ok=false if it does
// not match the expected grammar at all.
func parseDepLine(raw string) (parsedDepLine, bool) {
	m := depLineRe.FindStringSubmatch(raw)
	if m == nil {
		return parsedDepLine{}, false
	}
	return parsedDepLine{Name: m[1], Version: m[2], Source: m[3]}, true
}
