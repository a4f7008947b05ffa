package analysis

import (
	"context"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"github.com/teranos/dmypyls/position"
	"go.uber.org/zap"
)

// DefinitionMatch is a definition found in worker output. Line and Column
// are 1-based, as printed by the worker.
type DefinitionMatch struct {
	Path   string
	Line   int
	Column int
}

// Location returns the zero-width editor location of the match.
func (m DefinitionMatch) Location() position.Location {
	return position.Point(m.Path, position.ToolPosition{Line: m.Line, Column: m.Column})
}

// ParseDefinition scans stdout for the first match of pattern. No match is
// (nil, nil). A match whose coordinates are not positive integers is an
// ErrMalformedDefinition.
func ParseDefinition(stdout string, pattern *Pattern) (*DefinitionMatch, error) {
	m := pattern.Regexp.FindStringSubmatch(stdout)
	if m == nil {
		return nil, nil
	}

	line, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, errors.NewMalformedDefinitionError(m[0], err)
	}
	column, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, errors.NewMalformedDefinitionError(m[0], err)
	}
	if line < 1 || column < 1 {
		return nil, errors.NewMalformedDefinitionError(m[0], nil)
	}

	return &DefinitionMatch{Path: m[1], Line: line, Column: column}, nil
}

// Resolver answers go-to-definition with `suggest --callsites`.
type Resolver struct {
	dispatcher *Dispatcher
	version    func() *semver.Version
	observer   Observer
	logger     *zap.SugaredLogger
}

// NewResolver creates a Resolver. version reports the worker version used to
// pick the output pattern; it may return nil.
func NewResolver(d *Dispatcher, version func() *semver.Version, observer Observer, log *zap.SugaredLogger) *Resolver {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Resolver{dispatcher: d, version: version, observer: observer, logger: log}
}

// Resolve returns the definition of the symbol at pos in path, or nil when
// the worker names none.
func (r *Resolver) Resolve(ctx context.Context, path string, pos position.Position) (*position.Location, error) {
	tp := position.ToTool(pos)

	res, err := r.dispatcher.SuggestDefinition(ctx, path, tp)
	if err != nil {
		r.observer.DefinitionResolved(OutcomeError)
		return nil, err
	}

	pattern := SelectPattern(r.version())
	match, err := ParseDefinition(res.Stdout, pattern)
	if err != nil {
		r.observer.DefinitionResolved(OutcomeMalformed)
		r.logger.Errorw("unparseable definition in worker output",
			logger.FieldPath, path,
			logger.FieldPattern, pattern.Name+"/v"+pattern.Version,
			logger.FieldError, err.Error(),
		)
		return nil, err
	}

	if match == nil {
		r.observer.DefinitionResolved(OutcomeNotFound)
		r.logger.Debugw("no definition found",
			logger.FieldPath, path,
			logger.FieldLine, tp.Line,
			logger.FieldColumn, tp.Column,
		)
		return nil, nil
	}

	r.observer.DefinitionResolved(OutcomeFound)
	loc := match.Location()
	return &loc, nil
}
