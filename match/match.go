// Package match compiles the include/exclude pattern sets the list and
// delete drivers filter ctfile names through (§4.5 "the operation's
// completion callback filters the list through include and optional
// exclude pattern sets (regex or glob)").
package match

import (
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
)

// Syntax selects how a pattern string is compiled.
type Syntax int

// Supported pattern syntaxes.
const (
	Glob Syntax = iota
	Regex
)

// Pattern is one compiled include/exclude matcher.
type Pattern struct {
	syntax Syntax
	raw    string
	re     *regexp.Regexp
}

// Compile builds a Pattern from raw using syntax.
func Compile(raw string, syntax Syntax) (*Pattern, error) {
	p := &Pattern{syntax: syntax, raw: raw}
	switch syntax {
	case Regex:
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, err
		}
		p.re = re
	case Glob:
		if _, err := doublestar.Match(raw, "probe"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Match reports whether name matches the pattern.
func (p *Pattern) Match(name string) bool {
	switch p.syntax {
	case Regex:
		return p.re.MatchString(name)
	default:
		ok, err := doublestar.Match(p.raw, name)
		return err == nil && ok
	}
}

// Set is an include/exclude pair applied to a stream of candidate names
// (§4.5). A name passes the Set when it matches the include list (if
// one is configured) and matches none of the exclude list.
type Set struct {
	Include []*Pattern
	Exclude []*Pattern
}

// CompileSet compiles parallel include/exclude pattern strings under a
// single syntax.
func CompileSet(include, exclude []string, syntax Syntax) (*Set, error) {
	s := &Set{}
	for _, raw := range include {
		p, err := Compile(raw, syntax)
		if err != nil {
			return nil, err
		}
		s.Include = append(s.Include, p)
	}
	for _, raw := range exclude {
		p, err := Compile(raw, syntax)
		if err != nil {
			return nil, err
		}
		s.Exclude = append(s.Exclude, p)
	}
	return s, nil
}

// Matches reports whether name should be kept: included (or no include
// list at all) and not excluded.
func (s *Set) Matches(name string) bool {
	if s == nil {
		return true
	}
	if len(s.Include) > 0 {
		included := false
		for _, p := range s.Include {
			if p.Match(name) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, p := range s.Exclude {
		if p.Match(name) {
			return false
		}
	}
	return true
}

// Filter returns the subset of names that pass s.
func Filter(names []string, s *Set) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if s.Matches(n) {
			out = append(out, n)
		}
	}
	return out
}

// datePrefix recognizes the canonical "YYYYMMDD-HHMMSS-" ctfile name
// prefix (§4.6 step 1: "filter by the canonical date-prefix regex into
// all_files").
var datePrefix = regexp.MustCompile(`^\d{8}-\d{6}-`)

// IsCtfileName reports whether name carries the canonical ctfile date
// prefix.
func IsCtfileName(name string) bool {
	return datePrefix.MatchString(name)
}

// FilterCtfileNames keeps only names carrying the canonical date prefix.
func FilterCtfileNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if IsCtfileName(n) {
			out = append(out, n)
		}
	}
	return out
}
