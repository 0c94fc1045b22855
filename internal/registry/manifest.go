// Package registry loads the package-tier manifest: the named bundles
// (minimal/standard/full) of model-graph and vocabulary artifacts the
// pipeline can download.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"offlined/internal/common/fsutil"
	"offlined/pkg/types"
)

// manifestFile is the on-disk shape of a tier manifest.
type manifestFile struct {
	Tiers []types.Manifest `json:"tiers" yaml:"tiers"`
}

// Registry holds the validated tier manifests in file order.
type Registry struct {
	order []string
	tiers map[string]types.Manifest
}

// Load reads a tier manifest based on its extension.
// Supports: .yaml/.yml, .json
func Load(path string) (*Registry, error) {
	base, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(base)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var mf manifestFile
	switch ext := strings.ToLower(filepath.Ext(base)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &mf); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &mf); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest extension: %s", ext)
	}
	return New(mf.Tiers)
}

// New validates manifests and builds a Registry.
func New(tiers []types.Manifest) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("manifest declares no tiers")
	}
	r := &Registry{tiers: make(map[string]types.Manifest, len(tiers))}
	for _, m := range tiers {
		if m.Tier == "" {
			return nil, fmt.Errorf("tier with empty name")
		}
		if _, dup := r.tiers[m.Tier]; dup {
			return nil, fmt.Errorf("duplicate tier %q", m.Tier)
		}
		if len(m.Files) == 0 {
			return nil, fmt.Errorf("tier %q has no files", m.Tier)
		}
		names := make(map[string]struct{}, len(m.Files))
		for _, f := range m.Files {
			if f.URL == "" || f.Name == "" {
				return nil, fmt.Errorf("tier %q: every file needs url and name", m.Tier)
			}
			if _, dup := names[f.Name]; dup {
				return nil, fmt.Errorf("tier %q: duplicate file name %q", m.Tier, f.Name)
			}
			names[f.Name] = struct{}{}
			if f.SHA256 != "" && !isHexDigest(f.SHA256) {
				return nil, fmt.Errorf("tier %q: file %q: malformed sha256 %q", m.Tier, f.Name, f.SHA256)
			}
		}
		r.tiers[m.Tier] = m
		r.order = append(r.order, m.Tier)
	}
	return r, nil
}

// Tier returns the manifest for name.
func (r *Registry) Tier(name string) (types.Manifest, error) {
	m, ok := r.tiers[name]
	if !ok {
		return types.Manifest{}, fmt.Errorf("unknown tier %q", name)
	}
	return m, nil
}

// Tiers summarizes all configured tiers in file order.
func (r *Registry) Tiers() []types.TierInfo {
	out := make([]types.TierInfo, 0, len(r.order))
	for _, name := range r.order {
		m := r.tiers[name]
		out = append(out, types.TierInfo{
			Tier:        m.Tier,
			Description: m.Description,
			Files:       len(m.Files),
			SizeBytes:   m.TotalBytes(),
		})
	}
	return out
}

// isHexDigest reports whether s is a 64-char hex string.
func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
