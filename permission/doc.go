// Package permission is the authorization engine: ordered role hierarchies and
// the first-match priority comparison over them.
//
// Hierarchies are built once by [BuildHierarchies] and never mutated, so a
// *Hierarchies may be shared across goroutines without locking.
package permission
