package gateway

import "github.com/mbeoliero/orbit/chat"

// Op is the change-feed operation kind
type Op int32

const (
	OpInsert Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

// String returns the wire name of the operation
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseOp parses a wire operation name
func ParseOp(s string) (Op, bool) {
	switch s {
	case "insert":
		return OpInsert, true
	case "update":
		return OpUpdate, true
	case "delete":
		return OpDelete, true
	default:
		return 0, false
	}
}

// MessageEvent is a tagged row-level event on the messages table, decoded
// once at the subscription boundary. Message is nil for deletes; MessageId
// is always set.
type MessageEvent struct {
	Op        Op
	MessageId string
	// ConversationId is set when the wire payload carries it (inserts and
	// updates always do)
	ConversationId string
	Message        *chat.Message
}

// PresenceEvent is a tagged row-level event on the presence table
type PresenceEvent struct {
	Op     Op
	Record *chat.PresenceRecord
}
