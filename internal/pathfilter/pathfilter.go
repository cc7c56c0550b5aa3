// Package pathfilter decides which file paths take part in a co-change graph.
package pathfilter

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/src-d/enry/v2"
)

// ErrBadPattern is returned for a glob that doublestar cannot parse.
var ErrBadPattern = errors.New("invalid glob pattern")

// Config selects paths. An empty Include admits every path.
type Config struct {
	Include      []string
	Exclude      []string
	Languages    []string
	SkipVendored bool
}

// Filter is an immutable, concurrency-safe path predicate.
type Filter struct {
	include      []string
	exclude      []string
	languages    map[string]bool
	skipVendored bool
}

// New validates every pattern and builds a filter.
func New(cfg Config) (*Filter, error) {
	for _, p := range append(append([]string(nil), cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, p)
		}
	}

	f := &Filter{
		include:      cfg.Include,
		exclude:      cfg.Exclude,
		skipVendored: cfg.SkipVendored,
	}

	if len(cfg.Languages) > 0 {
		f.languages = make(map[string]bool, len(cfg.Languages))
		for _, lang := range cfg.Languages {
			f.languages[strings.ToLower(lang)] = true
		}
	}

	return f, nil
}

// Allow reports whether p passes the filter. Exclusion wins over inclusion.
func (f *Filter) Allow(p string) bool {
	if f.skipVendored && enry.IsVendor(p) {
		return false
	}

	if matchAny(f.exclude, p) {
		return false
	}

	if len(f.include) > 0 && !matchAny(f.include, p) {
		return false
	}

	if f.languages != nil {
		lang := enry.GetLanguage(path.Base(p), nil)
		if !f.languages[strings.ToLower(lang)] {
			return false
		}
	}

	return true
}

// Language returns the language enry guesses from a file name, or "".
func Language(p string) string {
	return enry.GetLanguage(path.Base(p), nil)
}

func matchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, p)
		if err == nil && match {
			return true
		}
	}

	return false
}
