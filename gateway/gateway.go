// Package gateway defines the contracts the chat core depends on: row
// storage for conversations, messages, users and presence timestamps, plus a
// change-feed subscription for push delivery. The core never talks to a
// backend directly; implementations live in the subpackages.
package gateway

import (
	"context"

	"github.com/mbeoliero/orbit/chat"
)

// Gateway is the persistence contract. Single-row queries return (nil, nil)
// when no row matches. Inserting a conversation for an already-existing
// unordered pair returns ErrConflict.
type Gateway interface {
	// InsertConversation inserts a conversation row, assigning an id if the
	// row carries none. Returns ErrConflict if a row for the same unordered
	// participant pair already exists.
	InsertConversation(ctx context.Context, conv *chat.Conversation) (*chat.Conversation, error)

	// QueryConversation gets a conversation by id
	QueryConversation(ctx context.Context, conversationId string) (*chat.Conversation, error)

	// QueryConversationByPair gets the conversation for an unordered pair
	QueryConversationByPair(ctx context.Context, userA, userB string) (*chat.Conversation, error)

	// QueryUserConversations gets all conversations a user participates in,
	// most recent activity first
	QueryUserConversations(ctx context.Context, userId string) ([]*chat.Conversation, error)

	// TouchConversation bumps last-activity and the last-message pointer
	TouchConversation(ctx context.Context, conversationId, lastMessageId string, at int64) error

	// InsertMessage inserts a message row, assigning the server id
	InsertMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error)

	// QueryMessage gets a message by server id
	QueryMessage(ctx context.Context, messageId string) (*chat.Message, error)

	// QueryConversationMessages gets all messages of a conversation in send
	// order, excluding tombstoned ones
	QueryConversationMessages(ctx context.Context, conversationId string) ([]*chat.Message, error)

	// QueryLatestMessages gets the most recent non-deleted message per
	// conversation in a single batched query
	QueryLatestMessages(ctx context.Context, conversationIds []string) (map[string]*chat.Message, error)

	// CountUnread counts messages not authored by viewerId and not yet read,
	// batched across conversations
	CountUnread(ctx context.Context, conversationIds []string, viewerId string) (map[string]int64, error)

	// MarkMessagesRead flips the read flag on all unread messages in the
	// conversation that were not authored by readerId
	MarkMessagesRead(ctx context.Context, conversationId, readerId string) error

	// UpdateMessage applies a partial update to a message row
	UpdateMessage(ctx context.Context, messageId string, patch *chat.MessagePatch) error

	// InsertTombstone records a delete marker for a message
	InsertTombstone(ctx context.Context, messageId, actorId string) error

	// QueryUser gets a user profile
	QueryUser(ctx context.Context, userId string) (*chat.UserInfo, error)

	// UpsertHeartbeat writes a presence timestamp for a user
	UpsertHeartbeat(ctx context.Context, rec *chat.PresenceRecord) error

	// QueryHeartbeat gets the presence record for a user
	QueryHeartbeat(ctx context.Context, userId string) (*chat.PresenceRecord, error)
}

// ChangeFeed is the push contract. Delivery is at-least-once and may arrive
// out of order relative to a client's own direct write response; the state
// store's reconciliation rule absorbs both. Each subscription returns a
// detach function.
type ChangeFeed interface {
	// SubscribeConversationMessages delivers message events scoped to one
	// conversation id
	SubscribeConversationMessages(ctx context.Context, conversationId string, fn func(MessageEvent)) (func(), error)

	// SubscribeMessageInserts delivers insert events across all messages
	SubscribeMessageInserts(ctx context.Context, fn func(MessageEvent)) (func(), error)

	// SubscribePresence delivers presence timestamp changes for all users
	SubscribePresence(ctx context.Context, fn func(PresenceEvent)) (func(), error)
}
