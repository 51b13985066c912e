package guard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard() *Guard {
	return New(DefaultPolicy(), nil, nil)
}

func TestNormalizePath(t *testing.T) {
	g := newTestGuard()

	tests := []struct {
		in   string
		want string
	}{
		{"./src/app.ts", "src/app.ts"},
		{"src//app.ts", "src/app.ts"},
		{"src/src/app.ts", "src/app.ts"},
		{"src/src/src/app.ts", "src/app.ts"},
		{"dist/dist/bundle.js", "dist/bundle.js"},
		{"src/source/app.ts", "src/source/app.ts"},
		{"plain.go", "plain.go"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.NormalizePath(tt.in), tt.in)
	}
}

func TestValidatePath(t *testing.T) {
	g := newTestGuard()

	tests := []struct {
		name      string
		in        string
		valid     bool
		errType   PathErrorType
		corrected string
	}{
		{name: "clean path", in: "src/app.ts", valid: true},
		{name: "traversal", in: "../etc/passwd", valid: false, errType: PathErrTraversal},
		{name: "embedded traversal", in: "src/../../x", valid: false, errType: PathErrTraversal},
		{name: "shell metacharacters", in: "src/a;rm.ts", valid: false, errType: PathErrInvalidChars},
		{name: "control characters", in: "src/a\x01.ts", valid: false, errType: PathErrInvalidChars},
		{name: "duplicate prefix corrected", in: "src/src/app.ts", valid: true, corrected: "src/app.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.ValidatePath(tt.in)
			assert.Equal(t, tt.valid, got.Valid)
			assert.Equal(t, tt.errType, got.ErrorType)
			assert.Equal(t, tt.corrected, got.CorrectedPath)
		})
	}
}

func TestProtectionTiers(t *testing.T) {
	g := newTestGuard()

	assert.True(t, g.IsStrictlyProtected("src/safety/guard.ts"))
	assert.True(t, g.IsStrictlyProtected("config.json"))
	assert.True(t, g.IsStrictlyProtected("./src/src/safety/x.ts"), "normalization applies first")
	assert.False(t, g.IsStrictlyProtected("src/safetynet.ts"), "prefix match is directory-scoped")
	assert.False(t, g.IsStrictlyProtected("src/app.ts"))

	assert.True(t, g.IsConditionallyProtected("src/core/engine.ts"))
	assert.True(t, g.IsConditionallyProtected("Makefile"))
	assert.False(t, g.IsConditionallyProtected("src/feature/x.ts"))
}

func TestValidateChange(t *testing.T) {
	g := newTestGuard()

	tests := []struct {
		name   string
		change ChangeSet
		valid  bool
		reason string
	}{
		{
			name:   "acceptable change",
			change: ChangeSet{Files: []string{"src/a.ts", "src/b.ts"}, TotalLines: 200},
			valid:  true,
		},
		{
			name: "too many files",
			change: ChangeSet{Files: []string{
				"a.go", "b.go", "c.go", "d.go", "e.go", "f.go"}},
			reason: "too many files",
		},
		{
			name:   "too many lines",
			change: ChangeSet{Files: []string{"src/a.ts"}, TotalLines: 501},
			reason: "too many lines",
		},
		{
			name:   "strictly protected file",
			change: ChangeSet{Files: []string{"src/safety/x.ts"}},
			reason: "protected file",
		},
		{
			name:   "disallowed extension",
			change: ChangeSet{Files: []string{"run.sh"}},
			reason: "extension not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.ValidateChange(tt.change)
			assert.Equal(t, tt.valid, got.Valid)
			if tt.reason != "" {
				assert.Contains(t, got.Reason, tt.reason)
			}
		})
	}
}

func TestValidateCodeContent(t *testing.T) {
	g := newTestGuard()

	safe := g.ValidateCodeContent("func add(a, b int) int { return a + b }")
	assert.True(t, safe.Safe)
	assert.Empty(t, safe.Warnings)

	unsafe := g.ValidateCodeContent(`
		const out = eval(userInput)
		require("child_process").execSync("rm -rf /")
	`)
	assert.False(t, unsafe.Safe)
	assert.Contains(t, unsafe.Warnings, "eval() call")
	assert.Contains(t, unsafe.Warnings, "child_process usage")
	assert.Contains(t, unsafe.Warnings, "rm -rf invocation")
}

func TestLoadPolicyMissingFileReturnsDefaults(t *testing.T) {
	policy, err := LoadPolicy(filepath.Join(t.TempDir(), "policy.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), policy)
}

func TestLoadPolicyOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
strictlyProtected:
  - secrets/
maxFilesPerChange: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"secrets/"}, policy.StrictlyProtected)
	assert.Equal(t, 3, policy.MaxFilesPerChange)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultPolicy().ConditionallyProtected, policy.ConditionallyProtected)
	assert.Equal(t, DefaultPolicy().MaxLinesPerFile, policy.MaxLinesPerFile)
}

func TestLoadPolicyMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}
