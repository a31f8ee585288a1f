// Package gateway is the composition root and network surface of coven-chat.
//
// # Overview
//
// New builds every component from configuration: the history store
// (SQLite or MySQL, migrated on open), the agent and heading LLM clients,
// and the conversation service. Run serves them until its context is
// canceled; Shutdown tears them down in reverse order.
//
// # HTTP API
//
//   - POST /chat[?thread_id=ID] - Run a turn; starts a thread without an id
//   - GET /chat - List threads as [{thread_id, heading}]
//   - GET /chat?thread_id=ID - Read a thread (never calls the agent)
//   - POST /chat/retry - Re-attempt the write of a turn that failed to store
//   - GET /chat/export?thread_id=ID&format=md|html - Transcript download
//   - GET /chat/ws - WebSocket turns and live thread subscriptions
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (history store ping)
//
// Thread responses have the shape
//
//	{"thread_id": "...", "human_message": [...], "Ai_response": [...], "heading": "..."}
//
// Status codes: 400 for a bad body, 404 for an unknown thread or retry
// token, 409 for a stale retry, 502 when the agent or heading call fails,
// 504 when it times out and 503 when the history store fails. A 503 for a
// turn still carries the computed reply with "persisted": false and a
// "retry_token".
//
// # gRPC
//
// When server.grpc_addr is set (or Tailscale is enabled) the standard
// grpc.health.v1.Health service is served. Its status follows periodic
// history store pings and becomes NOT_SERVING on shutdown.
//
// # Tailscale
//
// With tailscale.enabled the servers listen on a tsnet node instead of TCP:
// HTTP on :80 (or :443 with https/funnel) and gRPC on :50051.
package gateway
