// Package auth provides caller identity for workroom-gateway.
//
// # Credentials
//
// Every HTTP call and real-time channel presents an HS256 JWT whose "sub"
// claim is a principal ID. Tokens are minted by the CLI:
//
//	workroom-gateway bootstrap --name proposals --service
//	workroom-gateway token --principal <id> --ttl 24h
//
// The signing secret comes from auth.jwt_secret and must be at least
// MinSecretLength bytes.
//
// # Principals
//
// A token only authenticates when its principal exists and is active.
// Principals are either users (the two parties of conversations) or
// services (the proposal-acceptance collaborator, which alone may create
// conversations and change their status).
//
// # HTTP
//
//	authn := auth.NewAuthenticator(store, verifier, logger)
//	r.Use(authn.Middleware)
//	r.With(auth.RequireService).Post("/api/conversations", ...)
//
// Handlers read the caller with FromContext. WebSocket upgrades call
// AuthenticateRequest with allowQuery set so browsers can pass ?token=.
package auth
