// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph exposes the symbolic computation graph modules build into.
//
// Module code rarely uses this package directly: the module Context embeds
// a *Scope, so ops are written as c.Add(x, y) or c.MatMul(x, w). Graph and
// Node are useful for inspecting what an instance built.
package graph

import (
	"github.com/born-ml/weaver/internal/graph"
)

// Graph is a computation graph.
type Graph = graph.Graph

// Node is one operation in a graph.
type Node = graph.Node

// Scope creates named ops in a graph.
type Scope = graph.Scope

// Op identifies an operation.
type Op = graph.Op

var (
	// ErrNotDifferentiable is returned by Gradients for ops without a gradient.
	ErrNotDifferentiable = graph.ErrNotDifferentiable

	// ErrForeignNode is returned by Gradients for nodes from another graph.
	ErrForeignNode = graph.ErrForeignNode
)

// New creates an empty graph.
func New() *Graph {
	return graph.New()
}

// Gradients returns d(sum y)/dx for every x, as nodes added to y's graph.
func Gradients(y *Node, xs ...*Node) ([]*Node, error) {
	return graph.Gradients(y, xs...)
}
