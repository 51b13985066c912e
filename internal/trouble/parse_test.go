package trouble

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBuildOutput(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want []ParsedError
	}{
		{
			name: "typescript style",
			out:  "src/app.ts(14,7): error TS2304: Cannot find name 'foo'.",
			want: []ParsedError{{
				File: "src/app.ts", Line: 14, Column: 7,
				Code: "TS2304", Message: "Cannot find name 'foo'.",
				Raw: "src/app.ts(14,7): error TS2304: Cannot find name 'foo'.",
			}},
		},
		{
			name: "generic file:line:col",
			out:  "internal/server/server.go:42:10: undefined: handleRequest",
			want: []ParsedError{{
				File: "internal/server/server.go", Line: 42, Column: 10,
				Message: "undefined: handleRequest",
				Raw:     "internal/server/server.go:42:10: undefined: handleRequest",
			}},
		},
		{
			name: "generic with error prefix",
			out:  "main.c:10:5: error: expected ';'",
			want: []ParsedError{{
				File: "main.c", Line: 10, Column: 5,
				Message: "expected ';'",
				Raw:     "main.c:10:5: error: expected ';'",
			}},
		},
		{
			name: "plain file with error marker",
			out:  "config.json: cannot parse value",
			want: []ParsedError{{
				File: "config.json", Message: "cannot parse value",
				Raw: "config.json: cannot parse value",
			}},
		},
		{
			name: "plain file without error marker is skipped",
			out:  "readme.md: updated recently",
			want: nil,
		},
		{
			name: "blank and unmatched lines skipped",
			out:  "\ncompiling...\n\ndone\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBuildOutput(tt.out))
		})
	}
}

func TestParseBuildOutputCapped(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "pkg/file%d.go:%d:1: undefined: x\n", i, i+1)
	}
	assert.Len(t, ParseBuildOutput(b.String()), maxParsedErrors)
}

func TestParseStackFrame(t *testing.T) {
	tests := []struct {
		name     string
		stack    string
		wantFile string
		wantLine int
		wantCol  int
	}{
		{
			name:     "go panic frame",
			stack:    "goroutine 1 [running]:\nmain.run()\n\tserver/main.go:27 +0x1d",
			wantFile: "server/main.go",
			wantLine: 27,
		},
		{
			name:     "js frame with column",
			stack:    "Error: boom\n    at handler (src/index.js:88:12)",
			wantFile: "src/index.js",
			wantLine: 88,
			wantCol:  12,
		},
		{
			name:  "no frame",
			stack: "something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, line, col := ParseStackFrame(tt.stack)
			assert.Equal(t, tt.wantFile, file)
			assert.Equal(t, tt.wantLine, line)
			assert.Equal(t, tt.wantCol, col)
		})
	}
}

func TestLooksLikeError(t *testing.T) {
	require.True(t, looksLikeError("module not found"))
	require.True(t, looksLikeError("Cannot read property"))
	require.False(t, looksLikeError("all good"))
}
