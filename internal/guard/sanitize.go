package guard

import (
	"fmt"
	"strings"
)

// CleanGeneratedCode normalizes AI-generated file content before it may
// be written: markdown fences are stripped, control characters are
// rejected and bracket balance is checked.
func CleanGeneratedCode(content string) (string, error) {
	content = stripFences(content)

	if strings.ContainsRune(content, 0) {
		return "", fmt.Errorf("generated code contains NUL bytes")
	}
	for _, r := range content {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return "", fmt.Errorf("generated code contains control characters")
		}
	}

	if err := checkBracketBalance(content); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("generated code is empty")
	}
	return content, nil
}

// stripFences removes a single wrapping markdown code fence if present.
func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return content
	}
	// Drop the opening fence (with optional language tag) and a closing
	// fence if one terminates the block.
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// checkBracketBalance verifies braces, brackets and parentheses nest
// correctly outside of string literals and comments. It is a coarse
// structural check, not a parse.
func checkBracketBalance(content string) error {
	var stack []rune
	pairs := map[rune]rune{'}': '{', ']': '[', ')': '('}

	inString := false
	var stringDelim rune
	inLineComment := false
	inBlockComment := false
	var prev rune

	for _, r := range content {
		switch {
		case inLineComment:
			if r == '\n' {
				inLineComment = false
			}
		case inBlockComment:
			if prev == '*' && r == '/' {
				inBlockComment = false
			}
		case inString:
			if r == stringDelim && prev != '\\' {
				inString = false
			}
		default:
			switch r {
			case '"', '\'', '`':
				inString = true
				stringDelim = r
			case '/':
				// Comment start is detected on the next rune.
			case '{', '[', '(':
				stack = append(stack, r)
			case '}', ']', ')':
				if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
					return fmt.Errorf("unbalanced %q in generated code", r)
				}
				stack = stack[:len(stack)-1]
			}
			if prev == '/' && r == '/' {
				inLineComment = true
			}
			if prev == '/' && r == '*' {
				inBlockComment = true
			}
		}
		prev = r
	}

	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q in generated code", stack[len(stack)-1])
	}
	return nil
}
