// Package position converts between the editor's coordinate system (file://
// URIs, 0-based line and character) and the one dmypy speaks on its command
// line and in its output (filesystem paths, 1-based line and column).
//
// All functions are pure. A URI without the file scheme is treated as a path
// already and passes through unchanged.
package position

import "strings"

// FileScheme is the only URI scheme the editor sends for workspace files.
const FileScheme = "file://"

// Position is an editor position. Both fields are 0-based.
type Position struct {
	Line      int
	Character int
}

// ToolPosition is a dmypy position. Both fields are 1-based.
type ToolPosition struct {
	Line   int
	Column int
}

// Range is an editor range. End is exclusive.
type Range struct {
	Start Position
	End   Position
}

// Location is a range inside the document identified by URI.
type Location struct {
	URI   string
	Range Range
}

// URIToPath strips the file scheme.
func URIToPath(uri string) string {
	return strings.TrimPrefix(uri, FileScheme)
}

// PathToURI prefixes path with the file scheme. The path itself is not
// normalized or escaped.
func PathToURI(path string) string {
	return FileScheme + path
}

// ToTool converts an editor position to the worker's convention.
func ToTool(p Position) ToolPosition {
	return ToolPosition{Line: p.Line + 1, Column: p.Character + 1}
}

// ToEditor converts a worker position to the editor's convention.
func ToEditor(p ToolPosition) Position {
	return Position{Line: p.Line - 1, Character: p.Column - 1}
}

// Point returns a zero-width location at p.
func Point(path string, p ToolPosition) Location {
	at := ToEditor(p)
	return Location{
		URI:   PathToURI(path),
		Range: Range{Start: at, End: at},
	}
}

// IsZeroWidth reports whether the range is a single point.
func (r Range) IsZeroWidth() bool {
	return r.Start == r.End
}
