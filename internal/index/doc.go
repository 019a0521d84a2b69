// Package index holds the per-project model the request handlers work on:
// the project's compiled rules, its registered files, the filesystem scanner
// and the substring searcher.
package index
