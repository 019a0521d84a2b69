// Package handlers routes inbound requests to the first handler that claims
// their protocol and turns every failure into an error response, so a bad
// request never takes the connection down.
package handlers
