package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/reduce/internal/ir"
)

// CycleWarning reports recipes that invoke each other in a loop.
//
// A loop is a warning: a recipe may recurse on purpose and stop through
// a conditional line, and the reduction object's depth guard ends runaway
// recursion at run time.
type CycleWarning struct {
	Path    []string `json:"path"` // ["a", "b", "a"]
	Message string   `json:"message"`
}

// AnalyzeCycles finds loops in the call graph of progs. An edge a -> b
// exists when recipe a has a line invoking b and b is one of progs.
// Warnings are ordered by the first recipe of each path.
func AnalyzeCycles(progs map[string]*ir.Program) []CycleWarning {
	graph := callGraph(progs)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !contains(graph[scc[0]], scc[0]) {
			continue
		}
		path := cyclePath(scc, graph)
		warnings = append(warnings, CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("recipe cycle: %s", strings.Join(path, " -> ")),
		})
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Path[0] < warnings[j].Path[0] })
	return warnings
}

// callGraph maps each recipe to the recipes it invokes, sorted and
// without repeats.
func callGraph(progs map[string]*ir.Program) map[string][]string {
	graph := make(map[string][]string, len(progs))
	for name, prog := range progs {
		callees := []string{}
		for _, callee := range prog.Primitives() {
			if _, ok := progs[callee]; ok && !contains(callees, callee) {
				callees = append(callees, callee)
			}
		}
		sort.Strings(callees)
		graph[name] = callees
	}
	return graph
}

// tarjanSCC returns the strongly connected components of graph. Nodes
// are visited in sorted order so results are stable; each component is
// sorted.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		next    int
		stack   []string
		index   = map[string]int{}
		low     = map[string]int{}
		onStack = map[string]bool{}
		sccs    [][]string
	)

	var visit func(string)
	visit = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, seen := index[w]; !seen {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}
		var scc []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		sort.Strings(scc)
		sccs = append(sccs, scc)
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if _, seen := index[n]; !seen {
			visit(n)
		}
	}
	return sccs
}

// cyclePath walks from the first member of scc along edges inside scc
// until it returns to the start.
func cyclePath(scc []string, graph map[string][]string) []string {
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	for cur := start; ; {
		next := ""
		for _, w := range graph[cur] {
			if w == start {
				return append(path, start)
			}
			if contains(scc, w) && !visited[w] && next == "" {
				next = w
			}
		}
		if next == "" {
			return path
		}
		visited[next] = true
		path = append(path, next)
		cur = next
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
