package bus

import "time"

// Event kinds published by commsync components. Subscribers filter by
// namespace prefix, e.g. "conversation." receives every cache mutation.
const (
	KindConversationUpdated = "conversation.updated"
	KindConversationRemoved = "conversation.removed"
	KindSendAck             = "message.send_ack"
	KindSendFailed          = "message.send_failed"
	KindStatusChanged       = "session.status_changed"
	KindSyncCompleted       = "sync.completed"
	KindSyncFailed          = "sync.failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ConversationChange is the payload for conversation.* events. Key is the
// normalized contact key of the affected conversation.
type ConversationChange struct {
	Key   string `json:"key"`
	MsgID string `json:"msg_id,omitempty"`
}

// SendResult is the payload for message.send_ack and message.send_failed.
type SendResult struct {
	Key         string `json:"key"`
	ClientMsgID string `json:"client_msg_id"`
	ServerMsgID string `json:"server_msg_id,omitempty"`
	Error       string `json:"error,omitempty"`
}
