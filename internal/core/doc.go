// Package core provides the business logic for bulk provisioning of Helix
// users, groups, depots, streams, and protections from a CSV roster.
// This package has no UI dependencies and can be used by any frontend.
//
// The flow is: a roster CSV is parsed and validated into Records, Records
// are folded into GroupSpecs, BuildPlan diffs the desired state against the
// backend to produce creation sets, and a Pipeline executes the creation
// sets in stage order (Users, Groups, Depots, PopulateDepots, Permissions)
// while accumulating an undo ledger after each completed stage.
//
// All access to the Helix server goes through the AdminBackend interface,
// implemented for real servers by internal/backend/helix and by fakes in
// tests.
package core
