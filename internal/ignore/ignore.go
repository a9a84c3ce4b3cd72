// Package ignore implements IgnoreMatcher, the tagged variant of
// path-exclusion rules persisted in a working directory's ignore.json.
// Each variant carries its own typed fields; the discriminator field is
// named "type" and a json.RawMessage dispatch on decode selects which
// variant's fields to unmarshal into.
package ignore

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"versionstore/internal/reverr"
)

// Matcher is a path-exclusion predicate evaluated against a path
// relative to a working directory's root.
type Matcher interface {
	// Matches reports whether relPath (slash-separated, relative to the
	// working directory root) should be ignored.
	Matches(relPath string, size int64) bool

	// Type returns the JSON discriminator for this matcher.
	Type() string
}

const (
	typePrefix    = "PrefixIgnoreMatcher"
	typeGlob      = "GlobIgnoreMatcher"
	typeRegex     = "RegexIgnoreMatcher"
	typeSize      = "SizeIgnoreMatcher"
	typeExtension = "ExtensionIgnoreMatcher"
	typeCategory  = "CategoryIgnoreMatcher"
)

// Prefix ignores every path that starts with Path.
type Prefix struct {
	Path string `json:"path"`
}

func (p Prefix) Type() string { return typePrefix }
func (p Prefix) Matches(relPath string, _ int64) bool {
	return strings.HasPrefix(relPath, p.Path)
}

// Glob ignores paths matching a doublestar glob Pattern (so `**` spans
// directory separators, as ".gitignore"-style tooling expects).
type Glob struct {
	Pattern string `json:"pattern"`
}

func (g Glob) Type() string { return typeGlob }
func (g Glob) Matches(relPath string, _ int64) bool {
	ok, err := doublestar.Match(g.Pattern, relPath)
	return err == nil && ok
}

// Regex ignores paths matching a regular expression.
type Regex struct {
	Pattern string `json:"pattern"`
	re      *regexp.Regexp
}

func (r Regex) Type() string { return typeRegex }
func (r Regex) Matches(relPath string, _ int64) bool {
	re := r.re
	if re == nil {
		var err error
		re, err = regexp.Compile(r.Pattern)
		if err != nil {
			return false
		}
	}
	return re.MatchString(relPath)
}

// Size ignores files outside the [MinBytes, MaxBytes] range. Either
// bound may be nil to mean unbounded on that side.
type Size struct {
	MinBytes *int64 `json:"minBytes,omitempty"`
	MaxBytes *int64 `json:"maxBytes,omitempty"`
}

func (s Size) Type() string { return typeSize }
func (s Size) Matches(_ string, size int64) bool {
	if s.MinBytes != nil && size < *s.MinBytes {
		return true
	}
	if s.MaxBytes != nil && size > *s.MaxBytes {
		return true
	}
	return false
}

// Extension ignores files whose extension (without the leading dot) is
// in Extensions.
type Extension struct {
	Extensions []string `json:"extensions"`
}

func (e Extension) Type() string { return typeExtension }
func (e Extension) Matches(relPath string, _ int64) bool {
	ext := strings.TrimPrefix(filepath.Ext(relPath), ".")
	for _, candidate := range e.Extensions {
		if strings.EqualFold(ext, candidate) {
			return true
		}
	}
	return false
}

// Category ignores files belonging to a named, pre-registered category
// (e.g. a front end's "build artifacts" preset). Category membership is
// resolved through Categories at match time so new categories can be
// registered without changing persisted ignore.json files.
type Category struct {
	Name string `json:"name"`
}

func (c Category) Type() string { return typeCategory }
func (c Category) Matches(relPath string, size int64) bool {
	m, ok := Categories[c.Name]
	if !ok {
		return false
	}
	return m.Matches(relPath, size)
}

// Categories maps a named preset to the matcher it expands to. Callers
// may register additional categories at startup.
var Categories = map[string]Matcher{}

// Default hides the working directory's own hidden metadata directory
// from every walk, regardless of user-configured matchers.
func Default(metadataDirName string) Matcher {
	return Prefix{Path: metadataDirName}
}

// Set is an ordered list of matchers evaluated with OR semantics: a path
// is ignored if any matcher in the set matches it.
type Set []Matcher

// Matches reports whether any matcher in the set ignores relPath.
func (s Set) Matches(relPath string, size int64) bool {
	for _, m := range s {
		if m.Matches(relPath, size) {
			return true
		}
	}
	return false
}

// MarshalJSON encodes Set as a JSON array of {"type": ..., ...fields}
// objects, per the .reversion/ignore.json format.
func (s Set) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, len(s))
	for i, m := range s {
		fields, err := json.Marshal(m)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindInternal, "marshal ignore matcher", err)
		}
		merged, err := mergeType(m.Type(), fields)
		if err != nil {
			return nil, err
		}
		out[i] = merged
	}
	return json.Marshal(out)
}

func mergeType(typ string, fields json.RawMessage) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, reverr.Wrap(reverr.KindInternal, "decode matcher fields for remarshal", err)
	}
	typJSON, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	m["type"] = typJSON
	return json.Marshal(m)
}

// UnmarshalJSON decodes a JSON array of tagged matcher objects into Set,
// dispatching on each element's "type" discriminator. An unrecognized
// type fails with an InvalidInput error.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return reverr.Wrap(reverr.KindInvalidInput, "decode ignore matcher array", err)
	}

	result := make(Set, 0, len(raw))
	for _, elem := range raw {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(elem, &head); err != nil {
			return reverr.Wrap(reverr.KindInvalidInput, "decode ignore matcher discriminator", err)
		}

		var m Matcher
		switch head.Type {
		case typePrefix:
			var v Prefix
			if err := json.Unmarshal(elem, &v); err != nil {
				return reverr.Wrap(reverr.KindInvalidInput, "decode PrefixIgnoreMatcher", err)
			}
			m = v
		case typeGlob:
			var v Glob
			if err := json.Unmarshal(elem, &v); err != nil {
				return reverr.Wrap(reverr.KindInvalidInput, "decode GlobIgnoreMatcher", err)
			}
			m = v
		case typeRegex:
			var v Regex
			if err := json.Unmarshal(elem, &v); err != nil {
				return reverr.Wrap(reverr.KindInvalidInput, "decode RegexIgnoreMatcher", err)
			}
			m = v
		case typeSize:
			var v Size
			if err := json.Unmarshal(elem, &v); err != nil {
				return reverr.Wrap(reverr.KindInvalidInput, "decode SizeIgnoreMatcher", err)
			}
			m = v
		case typeExtension:
			var v Extension
			if err := json.Unmarshal(elem, &v); err != nil {
				return reverr.Wrap(reverr.KindInvalidInput, "decode ExtensionIgnoreMatcher", err)
			}
			m = v
		case typeCategory:
			var v Category
			if err := json.Unmarshal(elem, &v); err != nil {
				return reverr.Wrap(reverr.KindInvalidInput, "decode CategoryIgnoreMatcher", err)
			}
			m = v
		default:
			return reverr.Newf(reverr.KindInvalidInput, "unknown ignore matcher type %q", head.Type)
		}
		result = append(result, m)
	}
	*s = result
	return nil
}
