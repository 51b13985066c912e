package verify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  trouble.ParsedError
		want ErrorClass
	}{
		{
			name: "duplicated path segment",
			err:  trouble.ParsedError{File: "src/src/app.ts", Message: "cannot find module"},
			want: ClassDuplicatePath,
		},
		{
			name: "duplicated path with backslashes",
			err:  trouble.ParsedError{File: `dist\dist\bundle.js`, Message: "x"},
			want: ClassDuplicatePath,
		},
		{
			name: "module not found",
			err:  trouble.ParsedError{File: "src/app.ts", Message: "Cannot find module 'lodash'"},
			want: ClassModuleNotFound,
		},
		{
			name: "syntax error",
			err:  trouble.ParsedError{File: "src/app.ts", Message: "Unexpected token '}'"},
			want: ClassSyntaxError,
		},
		{
			name: "type error by code",
			err:  trouble.ParsedError{File: "src/app.ts", Code: "TS2304", Message: "name not found"},
			want: ClassTypeError,
		},
		{
			name: "type error by message",
			err:  trouble.ParsedError{File: "src/app.ts", Message: "string is not assignable to number"},
			want: ClassTypeError,
		},
		{
			name: "unknown",
			err:  trouble.ParsedError{File: "src/app.ts", Message: "something odd happened"},
			want: ClassUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestParseTestOutput(t *testing.T) {
	output := `=== RUN   TestAdd
--- PASS: TestAdd (0.00s)
=== RUN   TestSub
--- PASS: TestSub (0.00s)
=== RUN   TestDiv
--- FAIL: TestDiv (0.01s)
FAIL
FAIL	example.com/calc	0.012s`

	result := parseTestOutput(output, errors.New("exit status 1"))
	assert.False(t, result.Passed)
	assert.Equal(t, 3, result.TotalTests)
	assert.Equal(t, 2, result.PassedTests)
	assert.Equal(t, 1, result.FailedTests)
	assert.Contains(t, result.Errors[0], "TestDiv")
}

func TestParseTestOutputAllPassing(t *testing.T) {
	output := "--- PASS: TestOne (0.00s)\n--- PASS: TestTwo (0.00s)\nok  \texample.com/calc\t0.01s"

	result := parseTestOutput(output, nil)
	assert.True(t, result.Passed)
	assert.Equal(t, 2, result.PassedTests)
	assert.Zero(t, result.FailedTests)
	assert.Empty(t, result.Errors)
}

func TestParseTestOutputUnparseableFailure(t *testing.T) {
	result := parseTestOutput("segmentation fault", errors.New("exit status 2"))
	assert.False(t, result.Passed)
	assert.Zero(t, result.TotalTests)
	assert.Equal(t, []string{"exit status 2"}, result.Errors, "exit status stands in for missing detail")
}
