package verify

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// relativeImportRe matches relative import specifiers in JS/TS-style
// sources: import ... from './x' and require('./x').
var relativeImportRe = regexp.MustCompile(`(?m)(?:from\s+|require\s*\(\s*)['"](\.\.?/[^'"]+)['"]`)

var importSourceExts = map[string]bool{".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true}

var importSkipDirs = map[string]bool{".git": true, "node_modules": true, "dist": true, "vendor": true, "snapshots": true}

// DetectCircularImports builds the relative-import graph under root and
// returns any cycles found, each as an ordered list of files.
func DetectCircularImports(root string) ([][]string, error) {
	graph := map[string][]string{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (importSkipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !importSourceExts[filepath.Ext(path)] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		for _, m := range relativeImportRe.FindAllStringSubmatch(string(data), -1) {
			target := resolveImport(root, filepath.Dir(path), m[1])
			if target == "" {
				continue
			}
			graph[rel] = append(graph[rel], target)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return findCycles(graph), nil
}

// resolveImport maps a relative specifier to a file path relative to
// root, trying the known extensions and index files.
func resolveImport(root, fromDir, spec string) string {
	base := filepath.Join(fromDir, spec)
	candidates := []string{base}
	for ext := range importSourceExts {
		candidates = append(candidates, base+ext, filepath.Join(base, "index"+ext))
	}
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, c)
		if err != nil {
			continue
		}
		return filepath.ToSlash(rel)
	}
	return ""
}

// findCycles runs an iterative-coloring DFS over the graph.
func findCycles(graph map[string][]string) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var cycles [][]string

	var stack []string
	onStack := map[string]int{} // node -> index in stack

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		onStack[node] = len(stack)
		stack = append(stack, node)

		for _, next := range graph[node] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				if idx, ok := onStack[next]; ok {
					cycle := make([]string, len(stack)-idx)
					copy(cycle, stack[idx:])
					cycles = append(cycles, cycle)
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, node)
		color[node] = black
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}
