package broadcast

import "github.com/collabforge/colabhub/internal/protocol"

// Event is a server-originated message fanned out to every subscriber of a
// document (or addressed to a single connection for an ack/error).
type Event struct {
	Type       protocol.EventType
	DocumentID string
	Payload    interface{}

	// ToConnection, if non-empty, restricts delivery to one connection
	// (used for operation_ack and validation error replies) instead of
	// fanning out to every subscriber.
	ToConnection string
}
