// Package nodes provides reusable node behavior: a reasoning core with a
// private context, a streaming model adapter and a couple of small nodes used
// by the bundled agents.
package nodes
