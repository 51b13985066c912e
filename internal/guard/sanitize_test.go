package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanGeneratedCodeStripsFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fence with language tag",
			in:   "```go\npackage main\n```",
			want: "package main",
		},
		{
			name: "fence without closing line",
			in:   "```\nlet x = 1",
			want: "let x = 1",
		},
		{
			name: "no fence passes through",
			in:   "package main",
			want: "package main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanGeneratedCode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanGeneratedCodeRejections(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "NUL byte", in: "package main\x00"},
		{name: "control character", in: "package main\x07"},
		{name: "empty after cleaning", in: "```\n\n```"},
		{name: "whitespace only", in: "   \n\t  "},
		{name: "unclosed brace", in: "func main() {"},
		{name: "stray closing bracket", in: "var x = ]"},
		{name: "mismatched pair", in: "func f() { return [1, 2) }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CleanGeneratedCode(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestCheckBracketBalanceIgnoresStringsAndComments(t *testing.T) {
	cases := []string{
		"s := \"unbalanced { in string\"",
		"// comment with { and (\nfunc f() {}\n",
		"/* block comment with ] */ var x int",
		"c := '{'",
		"tpl := `raw { string`",
	}
	for _, code := range cases {
		got, err := CleanGeneratedCode(code)
		require.NoError(t, err, code)
		assert.Equal(t, code, got)
	}
}

func TestCheckBracketBalanceEscapedQuote(t *testing.T) {
	code := `s := "quote \" inside"` + "\nfunc f() {}"
	_, err := CleanGeneratedCode(code)
	assert.NoError(t, err)
}
