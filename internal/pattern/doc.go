// Package pattern compiles ignore/include glob strings into operator sequences
// and matches relative paths against them.
//
// Ownership boundary:
// - glob grammar and compile-time validation
// - operator evaluation over a candidate path
// - ignore/include rule sets built from compiled patterns
//
// Grammar summary:
//
//	build/        trailing separator: directories only
//	/build        leading separator: anchored at the root
//	*.o           unanchored: may start at any directory depth
//	**/x          leading "**/" is the same as unanchored
//	out/**/*.o    "/**/" spans one or more intermediate directories
//	out/**        a terminal "/**" never matches
//
// "?" and "[" have no special meaning and match themselves literally.
//
// Compiled patterns are immutable and safe for concurrent use.
package pattern
