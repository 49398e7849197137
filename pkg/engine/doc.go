// Package engine implements the convergence core: for every host of a
// play's target group it evaluates an ordered list of desired-state
// assertions, applies each at most once, propagates changed signals to
// play-scoped handlers, and rolls the per-host outcomes up into a run
// report.
//
// Plays execute strictly in declaration order and act as barriers: a later
// play may read facts published by an earlier play's hosts through the
// variable resolver's cross-group lookup. Hosts within one play converge in
// parallel; their fact namespaces are isolated, so no cross-host locking is
// needed. Failures are host-scoped: one host failing an action never halts
// its siblings, while an unresolved cross-group variable fails the whole
// dependent play before any of its hosts run.
package engine
