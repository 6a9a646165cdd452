// Package svgm implements the control plane for a set view group: the
// durable, per-partition index state backing one group of related views
// that share a compiled map/reduce definition.
//
// A Controller owns exactly one Group and arbitrates the updater, cleaner,
// compactor, and optional replica group that read and transform it. All
// mutation of group state happens on the Controller's own goroutine; callers
// interact through synchronous request/reply methods and never touch Group
// fields directly.
package svgm
