package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunEmitsExpressionToStdout(t *testing.T) {
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

	var stdout, stderr bytes.Buffer
	code := run([]string{dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run exited %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `crateName = "leaf"`) {
		t.Errorf("stdout missing leaf derivation: %s", stdout.String())
	}
	if !strings.Contains(stdout.String(), `crateName = "libc"`) {
		t.Errorf("stdout missing libc derivation: %s", stdout.String())
	}
}

func TestRunWritesToOutputFlag(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "leaf"
version = "0.1.0"
edition = "2021"
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "leaf"
version = "0.1.0"
`)
	outPath := filepath.Join(t.TempDir(), "out.nix")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-o", outPath, dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run exited %d, stderr: %s", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("expected no stdout output when -o is set, got %q", stdout.String())
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `crateName = "leaf"`) {
		t.Errorf("output file missing leaf derivation: %s", data)
	}
}

func TestRunMissingManifestExitsNonZero(t *testing.T) {
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{dir}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "ManifestNotFound") {
		t.Errorf("stderr should report ManifestNotFound, got: %s", stderr.String())
	}
}

func TestRunNoDefaultFeaturesFlag(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", `
[package]
name = "core"
version = "0.1.0"
edition = "2021"

[features]
default = ["a"]
a = []
`)
	writeFile(t, dir, "Cargo.lock", `
[[package]]
name = "core"
version = "0.1.0"
`)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-no-default-features", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run exited %d, stderr: %s", code, stderr.String())
	}
	if strings.Contains(stdout.String(), `features = [ "a" ]`) {
		t.Errorf("default feature should not have been activated: %s", stdout.String())
	}
}
