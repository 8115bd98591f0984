// Package relay bridges REST handlers to live WebSocket viewers.
//
// Each conversation id has at most one live socket; a reconnect replaces the
// prior socket rather than adding a second. Delivery is fire-and-forget:
// sending to a conversation with no registered socket is a silent no-op and
// nothing is buffered. Inbound client frames are drained and discarded.
package relay
