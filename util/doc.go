// Package util provides small helpers shared by the zkfuse packages.
//
// The remote tree addresses nodes by absolute slash-delimited paths, and the
// filesystem is mounted over a configurable subtree of it. The helpers here
// convert between the two views (Rebase, Relative), split and join paths
// without touching the local filesystem (Join, Parent, Base, Clean), and
// check that names are usable on both sides (ValidateName, ValidatePath).
//
// All functions are pure and safe for concurrent use.
package util
