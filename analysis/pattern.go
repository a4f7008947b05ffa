package analysis

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// Pattern is a versioned contract with the worker about how a definition
// appears in `suggest --callsites` output. The regexp has three groups:
// path, line and column, both numbers 1-based.
type Pattern struct {
	Name string
	// Version of the contract itself
	Version string
	// Constraint selects the worker versions the pattern applies to
	Constraint string
	Regexp     *regexp.Regexp

	constraint *semver.Constraints
}

// Matches reports whether the pattern applies to worker version v.
func (p *Pattern) Matches(v *semver.Version) bool {
	if p.constraint == nil || v == nil {
		return false
	}
	return p.constraint.Check(v)
}

// MustPattern compiles a pattern and panics on a bad regexp or constraint.
func MustPattern(name, version, constraint, expr string) *Pattern {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		panic("analysis: bad constraint " + constraint + ": " + err.Error())
	}
	return &Pattern{
		Name:       name,
		Version:    version,
		Constraint: constraint,
		Regexp:     regexp.MustCompile(expr),
		constraint: c,
	}
}

// CallsitesV1 matches "at <path>:<line>:<column>". The path is greedy, so it
// may itself contain colons (C:\src, /src/a:b.py) and the last colon-separated
// pair on the line is taken as the coordinates, numeric or not;
// ParseDefinition rejects non-numeric ones.
var CallsitesV1 = MustPattern("callsites", "1", ">= 0.600.0-0", `at (.+):([^:\s]+):([^:\s]+)`)

// Patterns are tried in order by SelectPattern.
var Patterns = []*Pattern{CallsitesV1}

// DefaultPattern is used when the worker version is unknown or matches no
// pattern.
var DefaultPattern = CallsitesV1

// SelectPattern returns the pattern for worker version v.
func SelectPattern(v *semver.Version) *Pattern {
	for _, p := range Patterns {
		if p.Matches(v) {
			return p
		}
	}
	return DefaultPattern
}
