package verify

import (
	"strings"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

// ErrorClass buckets a parsed build error by repair strategy.
type ErrorClass string

const (
	// ClassDuplicatePath means the file path contains a doubled segment
	// (src/src/...) and can be fixed mechanically by renaming.
	ClassDuplicatePath  ErrorClass = "duplicate-path"
	ClassModuleNotFound ErrorClass = "module-not-found"
	ClassSyntaxError    ErrorClass = "syntax-error"
	ClassTypeError      ErrorClass = "type-error"
	ClassUnknown        ErrorClass = "unknown"
)

var duplicateSegments = []string{"src/src/", "workspace/workspace/", "dist/dist/", "apps/apps/"}

// Classify assigns a parsed error to a repair-strategy class.
func Classify(e trouble.ParsedError) ErrorClass {
	file := strings.ReplaceAll(e.File, "\\", "/")
	for _, seg := range duplicateSegments {
		if strings.Contains(file, seg) {
			return ClassDuplicatePath
		}
	}

	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "cannot find module"),
		strings.Contains(msg, "module not found"),
		strings.Contains(msg, "cannot find package"),
		strings.Contains(msg, "no required module"):
		return ClassModuleNotFound
	case strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "unexpected token"),
		strings.Contains(msg, "unexpected "),
		strings.Contains(msg, "expected "):
		return ClassSyntaxError
	case strings.HasPrefix(e.Code, "TS2"),
		strings.Contains(msg, "type "),
		strings.Contains(msg, "is not assignable"),
		strings.Contains(msg, "undefined:"):
		return ClassTypeError
	}
	return ClassUnknown
}
