// Package ws delivers presented utterances and agent status changes to
// websocket clients.
//
// A Hub implements core.Presenter and core.StatusReporter. Every message is
// a JSON Envelope. Clients may subscribe to a single session with the
// "session" query parameter or a {"type":"subscribe","sessionId":"..."}
// message; unsubscribed clients receive everything. Each client has a
// bounded send buffer and a client that cannot keep up is disconnected
// rather than slowing down the engine.
package ws
