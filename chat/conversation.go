package chat

// Conversation represents a direct conversation between two users.
// The participant pair is stored sorted; at most one row exists per
// unordered pair (unique index on user_a_id + user_b_id).
type Conversation struct {
	Id             string `json:"id" gorm:"column:id;primaryKey"`
	UserAId        string `json:"user_a_id" gorm:"column:user_a_id;uniqueIndex:idx_conv_pair"`
	UserBId        string `json:"user_b_id" gorm:"column:user_b_id;uniqueIndex:idx_conv_pair"`
	LastMessageId  string `json:"last_message_id" gorm:"column:last_message_id"`
	LastActivityAt int64  `json:"last_activity_at" gorm:"column:last_activity_at"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      int64  `json:"updated_at" gorm:"column:updated_at"`

	// UnreadCount is the viewer-scoped denormalized counter maintained by the
	// state store. Never persisted.
	UnreadCount int64 `json:"unread_count" gorm:"-"`

	// Pinned is the viewer-local pin preference maintained by the state
	// store. Pinned conversations sort before everything else.
	Pinned bool `json:"pinned" gorm:"-"`
}

// TableName returns the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// Participants returns both participant ids
func (c *Conversation) Participants() (string, string) {
	return c.UserAId, c.UserBId
}

// HasParticipant checks if userId is one of the two participants
func (c *Conversation) HasParticipant(userId string) bool {
	return userId != "" && (c.UserAId == userId || c.UserBId == userId)
}

// PairKeyOf returns the cache key for the conversation's participant pair
func (c *Conversation) PairKeyOf() string {
	return PairKey(c.UserAId, c.UserBId)
}

// PeerOf returns the other participant relative to userId
func (c *Conversation) PeerOf(userId string) string {
	if c.UserAId == userId {
		return c.UserBId
	}
	return c.UserAId
}

// ConversationSummary represents one entry of the conversation list screen:
// the row, the other participant's profile, the most recent non-deleted
// message and the viewer's unread count.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	Peer         *UserInfo     `json:"peer,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int64         `json:"unread_count"`
}
