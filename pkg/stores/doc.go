// Package stores persists run history. Every completed run is recorded with
// its per-play and per-host-per-action outcomes, so past convergences can be
// inspected after the fact. Persistence is strictly an audit trail: the
// engine never reads history back to decide anything, since idempotency
// comes from probing live state, not from remembering previous applies.
package stores
