package session

// Conn is the outbound half of a client connection. The websocket transport
// satisfies it in production; tests use an in-memory implementation. Writes
// are serialized by the session's dispatcher, so implementations do not need
// to be safe for concurrent WriteJSON.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}
