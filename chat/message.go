package chat

// MessageStatus is the delivery status derived from a message's flags
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Message represents a message in a conversation.
// Before confirmation a message is identified by a client-generated
// temporary id carried in Id; the confirmed copy carries the server id in
// Id and references the temporary id it replaces in TempId.
type Message struct {
	Id             string `json:"id" gorm:"column:id;primaryKey"`
	ConversationId string `json:"conversation_id" gorm:"column:conversation_id;index"`
	SenderId       string `json:"sender_id" gorm:"column:sender_id"`
	Content        string `json:"content" gorm:"column:content"`
	TempId         string `json:"temp_id,omitempty" gorm:"column:temp_id"`
	SentAt         int64  `json:"sent_at" gorm:"column:sent_at"`
	EditedAt       int64  `json:"edited_at,omitempty" gorm:"column:edited_at"`
	Delivered      bool   `json:"delivered" gorm:"column:delivered"`
	Read           bool   `json:"read" gorm:"column:read_flag"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      int64  `json:"updated_at" gorm:"column:updated_at"`

	// Optimistic marks a locally synthesized entry that has not been
	// confirmed by the backend. Exists only in client memory.
	Optimistic bool `json:"-" gorm:"-"`

	// Author is the sender profile joined at the subscription boundary.
	// The change feed carries only the changed columns.
	Author *UserInfo `json:"author,omitempty" gorm:"-"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// Status derives the delivery status from the message flags: read wins over
// delivered wins over sent
func (m *Message) Status() MessageStatus {
	switch {
	case m.Read:
		return StatusRead
	case m.Delivered:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// MessagePatch represents a partial message update
type MessagePatch struct {
	Content   *string `json:"content,omitempty"`
	EditedAt  *int64  `json:"edited_at,omitempty"`
	Delivered *bool   `json:"delivered,omitempty"`
	Read      *bool   `json:"read,omitempty"`
}

// Apply applies the patch fields to m
func (p *MessagePatch) Apply(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.EditedAt != nil {
		m.EditedAt = *p.EditedAt
	}
	if p.Delivered != nil {
		m.Delivered = *p.Delivered
	}
	if p.Read != nil {
		m.Read = *p.Read
	}
}

// MessageTombstone represents a per-viewer scoped delete marker.
// Deletes insert a tombstone keyed by message id and actor id instead of
// removing the row.
type MessageTombstone struct {
	Id        int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	MessageId string `json:"message_id" gorm:"column:message_id;uniqueIndex:idx_tombstone_pair"`
	ActorId   string `json:"actor_id" gorm:"column:actor_id;uniqueIndex:idx_tombstone_pair"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at"`
}

// TableName returns the table name for MessageTombstone
func (MessageTombstone) TableName() string {
	return "message_tombstones"
}
