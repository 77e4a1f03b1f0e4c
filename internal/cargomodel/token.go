package cargomodel

import "strings"

// TokenKind classifies a single feature-activation token, per spec.md
// section 4.4.
type TokenKind uint8

const (
	// ActivateLocalFeature: "feat" — activate local feature feat.
	ActivateLocalFeature TokenKind = iota
	// ActivateOptionalDep: "dep:foo" — mark optional dep foo activated,
	// without activating a same-named local feature.
	ActivateOptionalDep
	// ActivateDepFeature: "foo/bar" — activate feature bar on dep foo, and
	// implicitly activate foo itself if it is optional.
	ActivateDepFeature
	// ActivateDepFeatureWeak: "foo?/bar" — activate feature bar on dep foo
	// only if foo is already activated by some other path.
	ActivateDepFeatureWeak
)

// Token is a parsed feature-activation token.
type Token struct {
	Kind TokenKind
	// Name is the local feature name (ActivateLocalFeature) or the
	// dependency's import name (all other kinds).
	Name string
	// Feature is the feature to activate on Name, for the two dep-feature
	// kinds. Empty otherwise.
	Feature string
}

// ParseToken parses a single raw activation token string, per the grammar
// in spec.md section 4.4.
func ParseToken(raw string) Token {
	if strings.HasPrefix(raw, "dep:") {
		return Token{Kind: ActivateOptionalDep, Name: strings.TrimPrefix(raw, "dep:")}
	}
	if idx := strings.Index(raw, "/"); idx >= 0 {
		name := raw[:idx]
		feature := raw[idx+1:]
		if strings.HasSuffix(name, "?") {
			return Token{Kind: ActivateDepFeatureWeak, Name: strings.TrimSuffix(name, "?"), Feature: feature}
		}
		return Token{Kind: ActivateDepFeature, Name: name, Feature: feature}
	}
	return Token{Kind: ActivateLocalFeature, Name: raw}
}
