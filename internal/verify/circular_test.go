package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDetectCircularImportsFindsCycle(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src/a.ts", `import { b } from "./b";`)
	writeSource(t, root, "src/b.ts", `import { a } from "./a";`)

	cycles, err := DetectCircularImports(root)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"src/a.ts", "src/b.ts"}, cycles[0])
}

func TestDetectCircularImportsAcyclic(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src/a.ts", `import { b } from "./b";`)
	writeSource(t, root, "src/b.ts", `export const b = 1;`)

	cycles, err := DetectCircularImports(root)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestDetectCircularImportsThreeNodeCycle(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.js", `const b = require("./b");`)
	writeSource(t, root, "b.js", `const c = require("./c");`)
	writeSource(t, root, "c.js", `const a = require("./a");`)

	cycles, err := DetectCircularImports(root)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0], 3)
}

func TestDetectCircularImportsSkipsVendoredDirs(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "node_modules/pkg/a.ts", `import { b } from "./b";`)
	writeSource(t, root, "node_modules/pkg/b.ts", `import { a } from "./a";`)
	writeSource(t, root, "src/main.ts", `export const ok = true;`)

	cycles, err := DetectCircularImports(root)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestDetectCircularImportsResolvesIndexFiles(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src/app.ts", `import { util } from "./util";`)
	writeSource(t, root, "src/util/index.ts", `import { app } from "../app";`)

	cycles, err := DetectCircularImports(root)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
}

func TestFindCyclesSelfLoop(t *testing.T) {
	cycles := findCycles(map[string][]string{"a.ts": {"a.ts"}})
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a.ts"}, cycles[0])
}

func TestFindCyclesEmptyGraph(t *testing.T) {
	assert.Empty(t, findCycles(nil))
}
