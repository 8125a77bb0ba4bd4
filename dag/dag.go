// Package dag implements a fiber-scheduled directed acyclic task graph:
// nodes run once all their dependencies have completed, fanning in through
// a shared wait-group-style counter.
//
// Author: momentics <momentics@gmail.com>
package dag

import (
	"sync/atomic"

	"github.com/momentics/gomarl/errs"
	"github.com/momentics/gomarl/fsync"
	"github.com/momentics/gomarl/task"
)

// NodeID identifies a node within a single Builder/Graph.
type NodeID int

// Builder assembles a graph of work and their dependency edges before
// Build freezes it into a runnable Graph.
type Builder struct {
	nodes []nodeSpec
}

type nodeSpec struct {
	fn   func()
	deps []NodeID
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Add registers fn as a node with no dependencies yet and returns its id.
func (b *Builder) Add(fn func()) NodeID {
	b.nodes = append(b.nodes, nodeSpec{fn: fn})
	return NodeID(len(b.nodes) - 1)
}

// Then is convenience for Add followed by AddDependency(id, after...).
func (b *Builder) Then(fn func(), after ...NodeID) NodeID {
	id := b.Add(fn)
	b.AddDependency(id, after...)
	return id
}

// AddDependency records that node must not run until every id in deps has
// completed.
func (b *Builder) AddDependency(node NodeID, deps ...NodeID) {
	b.nodes[node].deps = append(b.nodes[node].deps, deps...)
}

// Sequence adds fns as a linear chain: each node depends on the one before
// it, and the first additionally depends on after (if given). Returns the
// new node ids in chain order.
func (b *Builder) Sequence(fns []func(), after ...NodeID) []NodeID {
	ids := make([]NodeID, 0, len(fns))
	prev := after
	for _, fn := range fns {
		id := b.Then(fn, prev...)
		ids = append(ids, id)
		prev = []NodeID{id}
	}
	return ids
}

// Build validates the graph (no self-loop, no out-of-range ids, no cycle)
// and freezes it into a Graph.
func (b *Builder) Build() *Graph {
	n := len(b.nodes)
	g := &Graph{
		fns:      make([]func(), n),
		deps:     make([][]NodeID, n),
		fanout:   make([][]NodeID, n),
		indegree: make([]int32, n),
	}
	for id, spec := range b.nodes {
		g.fns[id] = spec.fn
		g.deps[id] = spec.deps
		for _, dep := range spec.deps {
			if int(dep) < 0 || int(dep) >= n {
				errs.Misuse(errs.CodeInvalidArgument, "Builder.Build", "dependency references unknown node")
			}
			if int(dep) == id {
				errs.Misuse(errs.CodeInvalidArgument, "Builder.Build", "node depends on itself")
			}
			g.fanout[dep] = append(g.fanout[dep], NodeID(id))
		}
		g.indegree[id] = int32(len(spec.deps))
	}
	if cyclic(g) {
		errs.Misuse(errs.CodeInvalidArgument, "Builder.Build", "graph contains a cycle")
	}
	return g
}

func cyclic(g *Graph) bool {
	n := len(g.fns)
	indeg := make([]int32, n)
	copy(indeg, g.indegree)
	queue := make([]NodeID, 0, n)
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, NodeID(i))
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range g.fanout[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != n
}

// Graph is an immutable, runnable task dependency graph.
type Graph struct {
	fns      []func()
	deps     [][]NodeID
	fanout   [][]NodeID
	indegree []int32
}

// Run executes every node and blocks until the whole graph has completed.
// The first root runs on the caller's own stack, and each finishing node
// runs one newly-ready child on the same stack; every other ready node is
// handed to enqueue (normally gomarl.Schedule). A node's
// task runs only after every dependency's task has returned. The graph is
// immutable and the fan-in counters are per-run state, so the same Graph
// may be Run concurrently from several callers.
func (g *Graph) Run(enqueue func(task.Task)) {
	n := len(g.fns)
	if n == 0 {
		return
	}

	remaining := make([]int32, n)
	copy(remaining, g.indegree)

	wg := fsync.NewWaitGroup(n)

	// exec runs id and then walks its fan-out: one newly-ready child is
	// kept as the tail and run on this same stack, the rest go through
	// enqueue.
	var exec func(id NodeID)
	exec = func(id NodeID) {
		for {
			if fn := g.fns[id]; fn != nil {
				fn()
			}
			wg.Done()
			tail := NodeID(-1)
			for _, next := range g.fanout[id] {
				// Two sibling dependencies of next can finish on different
				// workers concurrently, so the fan-in counter must be
				// decremented atomically.
				if atomic.AddInt32(&remaining[next], -1) != 0 {
					continue
				}
				if tail < 0 {
					tail = next
					continue
				}
				child := next
				enqueue(task.New(func() { exec(child) }))
			}
			if tail < 0 {
				return
			}
			id = tail
		}
	}

	first := NodeID(-1)
	for i, d := range g.indegree {
		if d != 0 {
			continue
		}
		if first < 0 {
			first = NodeID(i)
			continue
		}
		root := NodeID(i)
		enqueue(task.New(func() { exec(root) }))
	}
	// The first root runs on the caller's own stack.
	exec(first)

	wg.Wait()
}
