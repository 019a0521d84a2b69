// Package session owns one framed client connection.
//
// Ownership boundary:
// - reader and writer loops over a single io.ReadWriteCloser
// - the bounded send queue shared by responses, requests and events
// - the pending-request table that correlates responses to callers
// - dialing the launcher's listener with retry/backoff
//
// A Conn is closed exactly once. Closing fails every outstanding request with
// ErrConnectionClosed and stops both loops.
package session
