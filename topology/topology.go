// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"sort"
	"strings"
)

// Edge asks node From to connect to node To.
type Edge struct {
	From int
	To   int
}

// String returns the edge as "from->to".
func (e Edge) String() string {
	return fmt.Sprintf("%d->%d", e.From, e.To)
}

// Spec is an ordered set of edges.  Applying the same edge twice has no
// further effect, so duplicates are dropped by Edges.
type Spec struct {
	edges []Edge
}

// New returns a topology made of the given edges.
func New(edges ...Edge) Spec {
	return Spec{edges: append([]Edge(nil), edges...)}
}

// None returns the empty topology.
func None() Spec {
	return Spec{}
}

// Chain connects every node to its predecessor: 1->0, 2->1, ...
func Chain(n int) Spec {
	var s Spec
	for i := 1; i < n; i++ {
		s.edges = append(s.edges, Edge{From: i, To: i - 1})
	}
	return s
}

// Ring connects every node to its successor, wrapping around: 0->1, 1->2,
// ..., (n-1)->0.  Rings of fewer than three nodes collapse to a chain.
func Ring(n int) Spec {
	if n < 3 {
		return Chain(n)
	}
	var s Spec
	for i := 0; i < n; i++ {
		s.edges = append(s.edges, Edge{From: i, To: (i + 1) % n})
	}
	return s
}

// Star connects every node other than hub to hub.
func Star(hub, n int) Spec {
	var s Spec
	for i := 0; i < n; i++ {
		if i != hub {
			s.edges = append(s.edges, Edge{From: i, To: hub})
		}
	}
	return s
}

// Mesh connects every pair of nodes once, from the higher ordinal to the
// lower one.
func Mesh(n int) Spec {
	var s Spec
	for i := 1; i < n; i++ {
		for j := 0; j < i; j++ {
			s.edges = append(s.edges, Edge{From: i, To: j})
		}
	}
	return s
}

// Parse returns the named topology for n nodes.  Known names are none,
// chain, ring, star (hub 0) and mesh.
func Parse(name string, n int) (Spec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None(), nil
	case "chain":
		return Chain(n), nil
	case "ring":
		return Ring(n), nil
	case "star":
		return Star(0, n), nil
	case "mesh":
		return Mesh(n), nil
	}
	return Spec{}, makeError(ErrInvalidSpec, -1, fmt.Sprintf(
		"unknown topology %q", name))
}

// Edges returns the edges in order with duplicates removed.
func (s Spec) Edges() []Edge {
	seen := make(map[Edge]struct{}, len(s.edges))
	edges := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		edges = append(edges, e)
	}
	return edges
}

// Len returns the number of distinct edges.
func (s Spec) Len() int {
	return len(s.Edges())
}

// Nodes returns the ordinals referenced by the topology in ascending order.
func (s Spec) Nodes() []int {
	used := make(map[int]struct{})
	for _, e := range s.edges {
		used[e.From] = struct{}{}
		used[e.To] = struct{}{}
	}
	nodes := make([]int, 0, len(used))
	for i := range used {
		nodes = append(nodes, i)
	}
	sort.Ints(nodes)
	return nodes
}

// Validate checks that every edge fits a network of n nodes and that no node
// is connected to itself.
func (s Spec) Validate(n int) error {
	for _, e := range s.edges {
		if e.From < 0 || e.From >= n || e.To < 0 || e.To >= n {
			return makeError(ErrInvalidSpec, -1, fmt.Sprintf("edge %v "+
				"outside a network of %d nodes", e, n))
		}
		if e.From == e.To {
			return makeError(ErrInvalidSpec, e.From, "edge connects "+
				"the node to itself")
		}
	}
	return nil
}

// String returns the edges as a comma separated list.
func (s Spec) String() string {
	edges := s.Edges()
	if len(edges) == 0 {
		return "none"
	}
	strs := make([]string, len(edges))
	for i, e := range edges {
		strs[i] = e.String()
	}
	return strings.Join(strs, ",")
}
