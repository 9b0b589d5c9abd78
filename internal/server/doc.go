// Package server implements the HTTP and WebSocket surface of the account
// service.
//
// The implementation is organized into specialized files: the Hub broadcast
// registry and its WebSocket clients, the authorization and CORS middleware,
// the account and chat handlers, routing, and http.Server lifecycle helpers.
// Every dependency is injected through New and Options; the package keeps no
// global state.
package server
