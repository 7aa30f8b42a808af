// Package gateway orchestrates the workroom-gateway server components.
//
// # Overview
//
// The gateway owns the store, the presence router (with its optional Redis
// relay), the conversation service and the authenticator, and exposes them
// over HTTP, a WebSocket real-time channel and a gRPC health service.
//
// # HTTP API
//
// Every /api route requires a bearer token for an active principal:
//
//   - POST /api/conversations - Open a conversation (service principals)
//   - GET /api/conversations - List the caller's conversations
//   - GET /api/conversations/{id} - Conversation projection
//   - PATCH /api/conversations/{id}/status - Lifecycle change (service principals)
//   - POST /api/conversations/{id}/keys - Submit or rotate a public key
//   - GET, POST /api/conversations/{id}/messages - History and send
//   - POST /api/conversations/{id}/messages/read - Read receipts
//   - POST /api/conversations/{id}/messages/{mid}/delivered - Delivery receipt
//   - DELETE /api/conversations/{id}/messages/{mid} - Soft delete
//   - GET /api/conversations/{id}/audit - Audit entries
//   - GET, POST /api/conversations/{id}/{meetings,documents,tasks}
//   - PATCH /api/conversations/{id}/tasks/{tid}
//   - POST /api/conversations/{id}/screenshare[/{sid}/end]
//   - GET /health, /health/ready - Liveness and store readiness
//
// Failures render as {"error":{"kind":"...","message":"..."}}.
//
// # Real-time Channel
//
// GET /ws upgrades to a WebSocket. The token may also be passed as ?token=.
// Clients send:
//
//	{"type":"join","conversation_id":"..."}
//	{"type":"leave","conversation_id":"..."}
//	{"type":"mark_delivered","conversation_id":"...","message_id":"..."}
//	{"type":"mark_read","conversation_id":"...","message_ids":["..."]}
//
// and receive {"event":"<name>","data":{...}} frames. The gateway pings every
// presence.heartbeat_interval and drops channels silent for longer than
// presence.heartbeat_timeout.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
