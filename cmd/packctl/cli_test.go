package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"offlined/internal/download"
)

func writeManifest(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "packages.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	return path
}

func TestTiersCommand(t *testing.T) {
	payload := []byte("model-bytes")
	manifest := writeManifest(t, t.TempDir(), `
tiers:
  - tier: small
    description: smallest package
    files:
      - url: http://packages.test/model.onnx
        name: model.onnx
        size_bytes: `+strconv.Itoa(len(payload))+`
        sha256: `+download.Checksum(payload)+`
`)
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"tiers", "--manifest", manifest})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if !strings.Contains(out.String(), "small") || !strings.Contains(out.String(), "smallest package") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("model-bytes")
	if err := os.WriteFile(filepath.Join(dir, "model.onnx"), payload, 0o644); err != nil {
		t.Fatalf("writing asset: %v", err)
	}
	manifest := writeManifest(t, dir, `
tiers:
  - tier: small
    description: smallest package
    files:
      - url: http://packages.test/model.onnx
        name: model.onnx
        size_bytes: `+strconv.Itoa(len(payload))+`
        sha256: `+download.Checksum(payload)+`
`)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"verify", "small", "--manifest", manifest, "--dir", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("verify: %v (output %q)", err, out.String())
	}
	if !strings.Contains(out.String(), "OK") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	// Corrupt the local copy and expect a verification failure.
	if err := os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("corrupting asset: %v", err)
	}
	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"verify", "small", "--manifest", manifest, "--dir", dir})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected verification failure for tampered file")
	}
	if !strings.Contains(out.String(), "MISMATCH") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestVerifyUnknownTier(t *testing.T) {
	manifest := writeManifest(t, t.TempDir(), `
tiers:
  - tier: small
    description: smallest package
    files:
      - url: http://packages.test/model.onnx
        name: model.onnx
        size_bytes: 1
        sha256: `+download.Checksum([]byte("x"))+`
`)
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"verify", "enormous", "--manifest", manifest})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KiB",
		1 << 20: "1.0 MiB",
	}
	for in, want := range cases {
		if got := humanBytes(in); got != want {
			t.Fatalf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
