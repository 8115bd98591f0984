// Package gateway orchestrates the chatrelay server components.
//
// # Overview
//
// The gateway package is the central coordinator of the chatrelay server.
// It owns the conversation registry, the WebSocket relay, the OAuth link
// resolver, the transcript store, and the HTTP server that ties them together.
//
// # HTTP API
//
// Channel API (the surface a bot connector would call):
//
//   - POST /v3/conversations - Create (or idempotently reuse) a conversation
//   - POST /v2/conversations - Internal create variant for older clients
//   - POST /v3/conversations/{conversationId}/activities/{activityId} - Bot reply
//
// Direct-Line style client API (the surface the test client calls):
//
//   - GET  /v3/directline/conversations/{conversationId}/activities?watermark=N
//   - POST /v3/directline/conversations/{conversationId}/activities
//   - POST /v3/directline/tokens/generate
//
// Emulator maintenance API:
//
//   - PUT    /emulator/{conversationId} - Re-key a conversation
//   - DELETE /emulator/{conversationId} - Close a conversation
//   - GET/POST/DELETE /emulator/{conversationId}/users
//   - POST   /emulator/{conversationId}/typing
//   - POST   /emulator/{conversationId}/ping
//   - POST   /emulator/{conversationId}/invoke/initialReport
//   - POST/GET /emulator/{conversationId}/transcript
//
// Viewer transport:
//
//   - GET /ws/{conversationId} - WebSocket upgrade; activity envelopes are
//     pushed server to client, inbound frames are ignored
//
// # Error Contract
//
// Validation failures on create return 403 with a descriptive JSON message
// and no conversation is created. Unknown conversation ids return 404.
// Handler panics are recovered into structured 500 responses.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	gw.Run(ctx)
//
// Run blocks until the context is canceled, then drains the HTTP server,
// closes every relay socket, and closes the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, route mounting, Run/Shutdown
//   - conversations.go: creation, replies, activity polling
//   - emulator.go: re-key, membership, typing, transcripts
//   - tokens.go: conversation token generation
//   - metrics.go: Prometheus collectors
package gateway
