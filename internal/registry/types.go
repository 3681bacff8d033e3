package registry

import (
	"fmt"
	"sort"

	"github.com/roach88/reduce/internal/ir"
)

// TypeGraph is the astrotype DAG. An edge runs from a type to each of its
// parents; a type is more specific than all of its ancestors.
type TypeGraph struct {
	parents map[string][]string
	order   []string
}

// NewTypeGraph returns an empty graph.
func NewTypeGraph() *TypeGraph {
	return &TypeGraph{parents: map[string][]string{}}
}

// AddType declares name with the given parents. Parents not yet declared
// are added as roots. Declaring a type twice adds the new parents.
func (g *TypeGraph) AddType(name string, parents ...string) error {
	if name == "" {
		return &ir.ResolutionError{Code: ir.ErrCodeUnknownType, Message: "astrotype has no name"}
	}
	g.add(name)
	for _, p := range parents {
		if p == name || g.IsAncestor(name, p) {
			return &ir.ResolutionError{
				Code:      ir.ErrCodeUnknownType,
				Message:   fmt.Sprintf("astrotype %s cannot have parent %s: cycle", name, p),
				AstroType: name,
				Name:      p,
			}
		}
		g.add(p)
		if !contains(g.parents[name], p) {
			g.parents[name] = append(g.parents[name], p)
		}
	}
	return nil
}

func (g *TypeGraph) add(name string) {
	if _, ok := g.parents[name]; !ok {
		g.parents[name] = nil
		g.order = append(g.order, name)
	}
}

// Has reports whether name is declared.
func (g *TypeGraph) Has(name string) bool {
	_, ok := g.parents[name]
	return ok
}

// Types returns every declared type in declaration order.
func (g *TypeGraph) Types() []string {
	return append([]string(nil), g.order...)
}

// Parents returns the direct parents of name.
func (g *TypeGraph) Parents(name string) []string {
	return append([]string(nil), g.parents[name]...)
}

// Ancestors returns every ancestor of name, nearest first.
func (g *TypeGraph) Ancestors(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	queue := append([]string(nil), g.parents[name]...)
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		queue = append(queue, g.parents[t]...)
	}
	return out
}

// IsAncestor reports whether a is a proper ancestor of b.
func (g *TypeGraph) IsAncestor(a, b string) bool {
	return contains(g.Ancestors(b), a)
}

// MostSpecific drops every candidate that is an ancestor of another
// candidate. The survivors keep their input order.
func (g *TypeGraph) MostSpecific(candidates []string) []string {
	var out []string
	for _, c := range candidates {
		if contains(out, c) {
			continue
		}
		general := false
		for _, other := range candidates {
			if other != c && g.IsAncestor(c, other) {
				general = true
				break
			}
		}
		if !general {
			out = append(out, c)
		}
	}
	return out
}

// Depth is the length of the longest path from name to a root.
func (g *TypeGraph) Depth(name string) int {
	return g.depth(name, map[string]int{})
}

func (g *TypeGraph) depth(name string, memo map[string]int) int {
	if d, ok := memo[name]; ok {
		return d
	}
	d := 0
	for _, p := range g.parents[name] {
		if pd := g.depth(p, memo) + 1; pd > d {
			d = pd
		}
	}
	memo[name] = d
	return d
}

// Expand adds the ancestors of types and orders the result most specific
// first. Types of equal depth keep their first-seen order.
func (g *TypeGraph) Expand(types []string) []string {
	var out []string
	for _, t := range types {
		if !contains(out, t) {
			out = append(out, t)
		}
		for _, a := range g.Ancestors(t) {
			if !contains(out, a) {
				out = append(out, a)
			}
		}
	}
	memo := map[string]int{}
	sort.SliceStable(out, func(i, j int) bool {
		return g.depth(out[i], memo) > g.depth(out[j], memo)
	})
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
