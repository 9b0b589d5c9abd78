// Package server wires HTTP handlers into a ServeMux for the account API and
// chat channel via routing helpers.
package server

import "net/http"

// Routes returns the application handler: every route on one ServeMux,
// protected routes behind RequireAuth, and the whole mux behind CORS.
func (s *Server) Routes() http.Handler {
	protected := RequireAuth(s.verifier)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.health)
	mux.HandleFunc("/ws", s.webSocket)

	mux.HandleFunc("POST /v1/signup", s.signUp)
	mux.HandleFunc("POST /v1/signin", s.signIn)
	mux.HandleFunc("GET /v1/refresh-token", s.refreshToken)
	mux.Handle("GET /v1/users", protected(http.HandlerFunc(s.listUsers)))
	mux.Handle("GET /v1/user/{id}", protected(http.HandlerFunc(s.getUser)))
	mux.Handle("POST /v1/user/update", protected(http.HandlerFunc(s.updateUser)))

	mux.Handle("GET /secret", protected(http.HandlerFunc(s.secret)))
	mux.HandleFunc("GET /not-secret", s.notSecret)

	return s.origins.cors(mux)
}
