package cargotoml

import (
	"path/filepath"

	"github.com/karrick/godirwalk"
)

// findCachedManifest looks for a registry dependency's already-fetched
// source tree under Cargo's on-disk registry cache
// (`$CARGO_HOME/registry/src/<index-dir>/<name>-<version>/Cargo.toml`).
// Downloading crate sources is out of scope (spec.md section 1's
// non-goals); reading a source tree Cargo has already fetched is not —
// this adapter degrades gracefully to a minimal synthesized Package
// (see buildLockOnlyPackage) when the cache entry is absent, which is the
// common case in a sandboxed build without a populated cache.
func findCachedManifest(cargoHome, name, version string) (string, bool) {
	if cargoHome == "" {
		return "", false
	}
	srcRoot := filepath.Join(cargoHome, "registry", "src")
	want := name + "-" + version
	var found string
	_ = godirwalk.Walk(srcRoot, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if found != "" {
				return filepath.SkipDir
			}
			if de.IsDir() && filepath.Base(path) == want {
				found = path
				return filepath.SkipDir
			}
			return nil
		},
		Unsorted: true,
	})
	if found == "" {
		return "", false
	}
	return found, true
}
