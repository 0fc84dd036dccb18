// Package pipeline defines the fixed stage graph of the reading pipeline:
// which task types exist, how downstream stages derive from the source
// text-generation stage, and how downstream task rows are constructed
// (sequence offsets, forwarded output fields, per-stage retry budgets and
// heartbeat timeouts).
package pipeline
