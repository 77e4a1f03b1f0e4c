package cargotoml

import "fmt"

// Dependency is a single `[dependencies]` entry. Cargo allows either the
// short form (`foo = "1.0"`) or the long table form (`foo = { version =
// "1.0", features = [...], optional = true, package = "...", path =
// "...", git = "...", rev = "..." }`); this type accepts both by
// implementing go-toml/v2's Unmarshaler interface directly over the
// decoded generic value rather than forcing two separate manifest passes.
type Dependency struct {
	VersionReq         string
	Features           []string
	DefaultFeatures    bool
	DefaultFeaturesSet bool
	Optional           bool
	Package            string // rename source: dep imported under a different key than its crate name
	Path               string
	Git                string
	Rev                string
}

// UnmarshalTOML implements go-toml/v2's Unmarshaler over the already
// type-converted TOML value: a bare string for the short form, or a
// map[string]interface{} for the table form.
func (d *Dependency) UnmarshalTOML(value interface{}) error {
	switch v := value.(type) {
	case string:
		d.VersionReq = v
		d.DefaultFeatures = true
		return nil
	case map[string]interface{}:
		d.DefaultFeatures = true
		if ver, ok := v["version"].(string); ok {
			d.VersionReq = ver
		}
		if feats, ok := v["features"].([]interface{}); ok {
			for _, f := range feats {
				if s, ok := f.(string); ok {
					d.Features = append(d.Features, s)
				}
			}
		}
		if df, ok := v["default-features"].(bool); ok {
			d.DefaultFeatures = df
			d.DefaultFeaturesSet = true
		}
		if opt, ok := v["optional"].(bool); ok {
			d.Optional = opt
		}
		if pkg, ok := v["package"].(string); ok {
			d.Package = pkg
		}
		if p, ok := v["path"].(string); ok {
			d.Path = p
		}
		if g, ok := v["git"].(string); ok {
			d.Git = g
		}
		if r, ok := v["rev"].(string); ok {
			d.Rev = r
		}
		return nil
	default:
		return fmt.Errorf("cargotoml: unsupported dependency value of type %T", value)
	}
}
