// Package deploy publishes an immutable, versioned snapshot of a static
// content tree to object storage and repoints a CDN origin at it.
//
// A deploy runs ComputePrefix, GuardAbsent, Resolve, Upload and SwitchCDN in
// that order. A rollback runs ComputePrefix, GuardPresent and SwitchCDN. The
// first failing stage ends the run with a *StageError; nothing already done is
// undone. In particular a failed upload stage can leave the version prefix
// holding a subset of the intended files, and the prefix then counts as taken
// for later deploys.
//
// The package owns no durable state. Everything lives in the bucket (which
// prefixes exist) and in the CDN distribution (which prefix an origin serves).
// Providers are reached through the ObjectStore and CDN interfaces so the
// orchestration can be exercised without AWS.
package deploy
