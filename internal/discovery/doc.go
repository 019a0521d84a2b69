// Package discovery answers which project root, if any, owns a path.
//
// Ownership boundary:
// - positive cache of discovered roots and their constructed values
// - negative cache of directories known to have no owning root
// - the marker-file probe and the filesystem churn watcher that drives Invalidate
//
// Both caches are memoization only. Dropping either loses no correctness.
package discovery
