package trouble

import (
	"regexp"
	"strconv"
	"strings"
)

// ParsedError is one structured error line extracted from build or test
// output.
type ParsedError struct {
	File    string
	Line    int
	Column  int
	Code    string
	Message string
	Raw     string
}

// maxParsedErrors bounds how many error lines are extracted from one
// command's output.
const maxParsedErrors = 10

var (
	// TypeScript-style: file(line,col): error CODE: message
	tsErrorRe = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): error ([A-Z]+\d+): (.+)$`)

	// Generic: file:line:col: message
	genericErrorRe = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s*(?:error:\s*)?(.+)$`)

	// Bare file with message: file: message
	plainErrorRe = regexp.MustCompile(`^([^\s:]+\.[a-zA-Z]+):\s*(.+)$`)
)

// ParseBuildOutput extracts up to 10 structured errors from raw build
// output. Lines that match no pattern are skipped.
func ParseBuildOutput(output string) []ParsedError {
	var errors []ParsedError
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(errors) >= maxParsedErrors {
			break
		}

		if m := tsErrorRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			errors = append(errors, ParsedError{
				File: m[1], Line: lineNo, Column: col,
				Code: m[4], Message: m[5], Raw: line,
			})
			continue
		}
		if m := genericErrorRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			errors = append(errors, ParsedError{
				File: m[1], Line: lineNo, Column: col,
				Message: m[4], Raw: line,
			})
			continue
		}
		if m := plainErrorRe.FindStringSubmatch(line); m != nil && looksLikeError(m[2]) {
			errors = append(errors, ParsedError{
				File: m[1], Message: m[2], Raw: line,
			})
		}
	}
	return errors
}

// looksLikeError filters plain "file: message" lines down to ones that
// actually report a problem.
func looksLikeError(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{"error", "cannot", "undefined", "failed", "missing", "not found"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// stackFrameRe matches the first file/line frame of a Go panic or a
// JS-style stack trace.
var stackFrameRe = regexp.MustCompile(`(?m)^\s*(?:at .*?\()?([^\s():]+\.[a-zA-Z]+):(\d+)(?::(\d+))?`)

// ParseStackFrame extracts the topmost file/line/column from a stack
// trace. Returns empty values when nothing matches.
func ParseStackFrame(stack string) (file string, line, column int) {
	m := stackFrameRe.FindStringSubmatch(stack)
	if m == nil {
		return "", 0, 0
	}
	line, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		column, _ = strconv.Atoi(m[3])
	}
	return m[1], line, column
}
