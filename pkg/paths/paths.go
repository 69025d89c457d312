// Package paths parses and validates the slash-separated paths clients use to
// address folders and files inside a space.
//
// Paths are purely syntactic here: no lookup happens. "/a//b/" and "a/b"
// name the same location; "" and "/" name the root.
package paths

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/marmos91/dittodrive/pkg/metadata"
)

const (
	// MaxNameBytes bounds a single segment.
	MaxNameBytes = 255

	// MaxPathDepth bounds the number of segments.
	MaxPathDepth = 64

	separator = "/"
)

// Normalize collapses repeated slashes and strips leading/trailing ones.
// The root normalizes to "".
func Normalize(path string) (string, error) {
	segments, err := Segments(path)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, separator), nil
}

// Segments returns the validated segments of path. The root has none.
func Segments(path string) ([]string, error) {
	raw := strings.Split(path, separator)
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			continue
		}
		if problem := nameProblem(seg); problem != "" {
			return nil, metadata.NewInvalidPathError(problem, path)
		}
		segments = append(segments, seg)
	}
	if len(segments) > MaxPathDepth {
		return nil, metadata.NewInvalidPathError("too deep", path)
	}
	return segments, nil
}

// Split returns the folder segments and the leaf name of a file path. The
// root has no leaf and is rejected.
func Split(path string) (folders []string, leaf string, err error) {
	segments, err := Segments(path)
	if err != nil {
		return nil, "", err
	}
	if len(segments) == 0 {
		return nil, "", metadata.NewInvalidPathError("file path has no name", path)
	}
	return segments[:len(segments)-1], segments[len(segments)-1], nil
}

// Join builds an absolute path from segments.
func Join(segments ...string) string {
	return separator + strings.Join(segments, separator)
}

// ValidateName checks a single segment.
func ValidateName(name string) error {
	if problem := nameProblem(name); problem != "" {
		return metadata.NewInvalidNameError(problem, name)
	}
	return nil
}

func nameProblem(name string) string {
	switch {
	case name == "":
		return "empty"
	case name == "." || name == "..":
		return "dot segment"
	case len(name) > MaxNameBytes:
		return "too long"
	case strings.Contains(name, separator):
		return "contains separator"
	case strings.ContainsRune(name, 0):
		return "contains NUL"
	case !utf8.ValidString(name):
		return "not valid UTF-8"
	}
	return ""
}

// NormalizeName is the case- and compatibility-insensitive form of a name
// used as the directory entry key: NFKC, then lower case.
func NormalizeName(name string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(name))
}
