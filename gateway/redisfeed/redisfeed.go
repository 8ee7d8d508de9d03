// Package redisfeed implements the change-feed contract over redis pub/sub.
// The SQL gateway publishes an envelope after every write; co-located
// clients get a change feed without database triggers.
package redisfeed

import (
	"context"
	"encoding/json"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/redis/go-redis/v9"
)

// Envelope is the wire payload published for every row-level change
type Envelope struct {
	Op             string               `json:"op"`
	Table          string               `json:"table"`
	MessageId      string               `json:"message_id,omitempty"`
	ConversationId string               `json:"conversation_id,omitempty"`
	Message        *chat.Message        `json:"message,omitempty"`
	Record         *chat.PresenceRecord `json:"record,omitempty"`
}

// Channel names, scoped by the configured key prefix

// MessagesChannel carries every message event
func MessagesChannel(prefix string) string {
	return prefix + "feed:messages"
}

// ConversationChannel carries message events scoped to one conversation
func ConversationChannel(prefix, conversationId string) string {
	return prefix + "feed:conv:" + conversationId
}

// PresenceChannel carries presence timestamp changes
func PresenceChannel(prefix string) string {
	return prefix + "feed:presence"
}

// Publisher publishes envelopes; used by the SQL gateway after each write.
// Publish failures are logged and swallowed: feed delivery is at-least-once
// overall and a lost event is recovered by the next summary refresh.
type Publisher struct {
	rdb    *redis.Client
	prefix string
}

// NewPublisher creates a Publisher
func NewPublisher(rdb *redis.Client, prefix string) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix}
}

// PublishMessage publishes a message envelope to the global channel and the
// conversation-scoped channel
func (p *Publisher) PublishMessage(ctx context.Context, env *Envelope) {
	if p == nil || p.rdb == nil {
		return
	}
	env.Table = "messages"
	data, err := json.Marshal(env)
	if err != nil {
		log.CtxWarn(ctx, "feed envelope marshal failed: %v", err)
		return
	}
	if err := p.rdb.Publish(ctx, MessagesChannel(p.prefix), data).Err(); err != nil {
		log.CtxWarn(ctx, "feed publish failed: channel=messages, error=%v", err)
	}
	if env.ConversationId != "" {
		if err := p.rdb.Publish(ctx, ConversationChannel(p.prefix, env.ConversationId), data).Err(); err != nil {
			log.CtxWarn(ctx, "feed publish failed: conversation_id=%s, error=%v", env.ConversationId, err)
		}
	}
}

// PublishPresence publishes a presence envelope
func (p *Publisher) PublishPresence(ctx context.Context, rec *chat.PresenceRecord) {
	if p == nil || p.rdb == nil {
		return
	}
	data, err := json.Marshal(&Envelope{Op: gateway.OpUpdate.String(), Table: "presence", Record: rec})
	if err != nil {
		log.CtxWarn(ctx, "feed envelope marshal failed: %v", err)
		return
	}
	if err := p.rdb.Publish(ctx, PresenceChannel(p.prefix), data).Err(); err != nil {
		log.CtxWarn(ctx, "feed publish failed: channel=presence, error=%v", err)
	}
}

// Feed implements gateway.ChangeFeed over redis pub/sub
type Feed struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Feed
func New(rdb *redis.Client, prefix string) *Feed {
	return &Feed{rdb: rdb, prefix: prefix}
}

// SubscribeConversationMessages subscribes to one conversation's channel
func (f *Feed) SubscribeConversationMessages(ctx context.Context, conversationId string, fn func(gateway.MessageEvent)) (func(), error) {
	return f.subscribeMessages(ctx, ConversationChannel(f.prefix, conversationId), fn, false)
}

// SubscribeMessageInserts subscribes to the global messages channel,
// filtered to inserts
func (f *Feed) SubscribeMessageInserts(ctx context.Context, fn func(gateway.MessageEvent)) (func(), error) {
	return f.subscribeMessages(ctx, MessagesChannel(f.prefix), fn, true)
}

func (f *Feed) subscribeMessages(ctx context.Context, channel string, fn func(gateway.MessageEvent), insertsOnly bool) (func(), error) {
	ps := f.rdb.Subscribe(ctx, channel)
	// Force the subscription to be established before returning so callers
	// never miss events published right after subscribing.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	go func() {
		for msg := range ps.Channel() {
			ev, ok := DecodeMessageEvent([]byte(msg.Payload))
			if !ok {
				log.Debug("feed payload dropped: channel=%s", channel)
				continue
			}
			if insertsOnly && ev.Op != gateway.OpInsert {
				continue
			}
			fn(ev)
		}
	}()

	return func() { _ = ps.Close() }, nil
}

// SubscribePresence subscribes to presence envelopes
func (f *Feed) SubscribePresence(ctx context.Context, fn func(gateway.PresenceEvent)) (func(), error) {
	ps := f.rdb.Subscribe(ctx, PresenceChannel(f.prefix))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	go func() {
		for msg := range ps.Channel() {
			ev, ok := DecodePresenceEvent([]byte(msg.Payload))
			if !ok {
				continue
			}
			fn(ev)
		}
	}()

	return func() { _ = ps.Close() }, nil
}

var _ gateway.ChangeFeed = (*Feed)(nil)

// DecodeMessageEvent decodes a wire envelope into a tagged message event
func DecodeMessageEvent(payload []byte) (gateway.MessageEvent, bool) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Table != "messages" {
		return gateway.MessageEvent{}, false
	}
	op, ok := gateway.ParseOp(env.Op)
	if !ok {
		return gateway.MessageEvent{}, false
	}
	ev := gateway.MessageEvent{
		Op:             op,
		MessageId:      env.MessageId,
		ConversationId: env.ConversationId,
		Message:        env.Message,
	}
	if ev.Message != nil {
		if ev.MessageId == "" {
			ev.MessageId = ev.Message.Id
		}
		if ev.ConversationId == "" {
			ev.ConversationId = ev.Message.ConversationId
		}
	}
	if ev.MessageId == "" {
		return gateway.MessageEvent{}, false
	}
	return ev, true
}

// DecodePresenceEvent decodes a wire envelope into a tagged presence event
func DecodePresenceEvent(payload []byte) (gateway.PresenceEvent, bool) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Table != "presence" || env.Record == nil {
		return gateway.PresenceEvent{}, false
	}
	op, ok := gateway.ParseOp(env.Op)
	if !ok {
		op = gateway.OpUpdate
	}
	return gateway.PresenceEvent{Op: op, Record: env.Record}, true
}
