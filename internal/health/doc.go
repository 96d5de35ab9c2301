// Package health provides composable probes and the preflight checks run by
// the check command before a deploy or rollback.
//
// Probes can be combined with [All] (AND, first error) or run side by side
// with [Run], which reports every [Named] probe so an operator sees all
// problems at once. [CheckFunc] adapts a plain function into a [Probe].
package health
