// Package flows contains the pure session flow runners. Each Run* function
// takes everything it needs through a Deps struct and reports its outcome as
// a result struct with a failure kind, never a package-level error variable.
// The root package owns the mapping from failure kinds to its public error
// taxonomy.
//
// Flow runners hold no state and take no locks. Serialization of flows
// against each other is the session manager's responsibility.
package flows
