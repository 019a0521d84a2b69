// Package protocol owns the message envelope carried inside each frame.
//
// Ownership boundary:
// - frame/header primitives (frame)
// - tlv payload primitives (tlv)
// - envelope encode/decode (this package)
// - typed-message union and its field schema (typed, schema)
// - connection pump and request correlation (session)
package protocol
