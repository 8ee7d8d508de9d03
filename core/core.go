// Package core wires the state store, the message sync service and the
// presence tracker into the single surface the UI layer consumes.
package core

import (
	"context"

	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/chatsync"
	"github.com/mbeoliero/orbit/config"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/mbeoliero/orbit/presence"
	"github.com/mbeoliero/orbit/store"
)

// Core is the chat core for one signed-in user
type Core struct {
	store    *store.Store
	sync     *chatsync.Service
	presence *presence.Tracker
}

// New constructs a core instance on top of a gateway and change feed. State
// is rebuilt from scratch per session; nothing here is process-global.
func New(cfg *config.Config, gw gateway.Gateway, feed gateway.ChangeFeed, userId string) *Core {
	if cfg == nil {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}
	st := store.New(userId)
	svc := chatsync.New(gw, feed, st, userId, &chatsync.Options{
		CreateRetries: cfg.Sync.CreateRetries,
		RetryBackoff:  cfg.Sync.RetryBackoff,
	})
	tracker := presence.New(gw, feed, &presence.Config{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		GraceMargin:       cfg.Presence.GraceMargin,
	})
	tracker.Start(userId)

	return &Core{store: st, sync: svc, presence: tracker}
}

// Store exposes the state store for snapshot subscriptions
func (c *Core) Store() *store.Store {
	return c.store
}

// Conversations returns the viewer's conversation summaries and seeds the
// state store
func (c *Core) Conversations(ctx context.Context) ([]*chat.ConversationSummary, error) {
	return c.sync.ConversationList(ctx)
}

// Messages loads a conversation's messages
func (c *Core) Messages(ctx context.Context, conversationId string) ([]*chat.Message, error) {
	return c.sync.Messages(ctx, conversationId)
}

// StartConversation returns the conversation with peerId, creating it
// race-safely if it does not exist
func (c *Core) StartConversation(ctx context.Context, selfId, peerId string) (*chat.Conversation, error) {
	return c.sync.CreateOrGetConversation(ctx, selfId, peerId)
}

// SendMessage sends optimistically; the returned message is already visible
// in the store
func (c *Core) SendMessage(ctx context.Context, conversationId, text string) (*chat.Message, <-chan error, error) {
	return c.sync.SendMessage(ctx, conversationId, text)
}

// EditMessage edits a message the viewer sent
func (c *Core) EditMessage(ctx context.Context, messageId, content string) error {
	return c.sync.EditMessage(ctx, messageId, content)
}

// DeleteMessage tombstones a message the viewer sent
func (c *Core) DeleteMessage(ctx context.Context, messageId string) error {
	return c.sync.DeleteMessage(ctx, messageId)
}

// MarkAsRead flips unread messages in a conversation
func (c *Core) MarkAsRead(ctx context.Context, conversationId string) error {
	return c.sync.MarkAsRead(ctx, conversationId)
}

// OpenConversation marks a conversation active; its unread count is pinned
// at zero while open
func (c *Core) OpenConversation(conversationId string) {
	c.store.SetActive(conversationId)
}

// CloseConversation clears the active-conversation pointer
func (c *Core) CloseConversation() {
	c.store.ClearActive()
}

// PinConversation records the viewer-local pin preference
func (c *Core) PinConversation(conversationId string, pinned bool) {
	c.store.SetPinned(conversationId, pinned)
}

// TotalUnread returns the badge count across all conversations
func (c *Core) TotalUnread() int64 {
	return c.store.TotalUnread()
}

// SubscribeConversation attaches to one conversation's change-feed events
func (c *Core) SubscribeConversation(ctx context.Context, conversationId string, fn func(gateway.MessageEvent)) (func(), error) {
	return c.sync.SubscribeConversation(ctx, conversationId, fn)
}

// SubscribeUserActivity signals new activity per conversation id
func (c *Core) SubscribeUserActivity(ctx context.Context, fn func(conversationId string)) (func(), error) {
	return c.sync.SubscribeUserActivity(ctx, fn)
}

// PresenceOf reports whether a user is currently online
func (c *Core) PresenceOf(ctx context.Context, userId string) (bool, error) {
	return c.presence.FetchStatus(ctx, userId)
}

// SubscribePresence observes online/offline transitions
func (c *Core) SubscribePresence(l presence.Listener) func() {
	return c.presence.Subscribe(l)
}

// Foreground notifies the tracker the app is visible again
func (c *Core) Foreground() {
	c.presence.Foreground()
}

// Close stops heartbeating and detaches the presence feed subscription
func (c *Core) Close() {
	c.presence.Close()
}
