package chatsync

import (
	"context"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/mbeoliero/orbit/pkg/errcode"
)

// SubscribeConversation subscribes to insert/update/delete events scoped to
// one conversation. Inserts and updates re-fetch the affected row with its
// author profile before hitting the store and the caller's callback, since
// the change feed carries only the changed columns. Deletes pass through the
// bare id.
func (s *Service) SubscribeConversation(ctx context.Context, conversationId string, fn func(gateway.MessageEvent)) (func(), error) {
	if conversationId == "" {
		return nil, errcode.ErrInvalidParam
	}

	detach, err := s.feed.SubscribeConversationMessages(ctx, conversationId, func(ev gateway.MessageEvent) {
		s.handleConversationEvent(conversationId, ev, fn)
	})
	if err != nil {
		return nil, errcode.ErrSubscribeFailed.Wrap(err)
	}
	return detach, nil
}

func (s *Service) handleConversationEvent(conversationId string, ev gateway.MessageEvent, fn func(gateway.MessageEvent)) {
	ctx := context.Background()

	switch ev.Op {
	case gateway.OpInsert, gateway.OpUpdate:
		full, err := s.gw.QueryMessage(ctx, ev.MessageId)
		if err != nil || full == nil {
			log.CtxWarn(ctx, "feed event refetch failed: message_id=%s, error=%v", ev.MessageId, err)
			return
		}
		if author, err := s.gw.QueryUser(ctx, full.SenderId); err == nil {
			full.Author = author
		} else {
			log.CtxDebug(ctx, "author profile fetch failed: user_id=%s, error=%v", full.SenderId, err)
		}

		// Feed delivery is at-least-once; a redelivered insert reconciles
		// into the existing entry and must not bump the counter again.
		appended := s.store.AddMessage(conversationId, full)
		if ev.Op == gateway.OpInsert && appended {
			s.store.IncrementUnread(conversationId, full.SenderId)
		}

		ev.ConversationId = conversationId
		ev.Message = full
		if fn != nil {
			fn(ev)
		}

	case gateway.OpDelete:
		s.store.DeleteMessage(ev.MessageId)
		ev.ConversationId = conversationId
		if fn != nil {
			fn(ev)
		}
	}
}

// SubscribeUserActivity subscribes to message inserts across all
// conversations, filters in process to conversations the viewer participates
// in, and signals new activity at conversation-id granularity. Used to
// refresh conversation summaries, not individual messages.
func (s *Service) SubscribeUserActivity(ctx context.Context, fn func(conversationId string)) (func(), error) {
	detach, err := s.feed.SubscribeMessageInserts(ctx, func(ev gateway.MessageEvent) {
		if ev.Op != gateway.OpInsert || ev.ConversationId == "" {
			return
		}
		if !s.participates(ev.ConversationId) {
			return
		}
		if fn != nil {
			fn(ev.ConversationId)
		}
	})
	if err != nil {
		return nil, errcode.ErrSubscribeFailed.Wrap(err)
	}
	return detach, nil
}

// participates checks whether the viewer is a member of the conversation,
// consulting the pair cache before hitting the gateway
func (s *Service) participates(conversationId string) bool {
	s.mu.Lock()
	for _, conv := range s.pairCache {
		if conv.Id == conversationId {
			s.mu.Unlock()
			return conv.HasParticipant(s.selfId)
		}
	}
	s.mu.Unlock()

	ctx := context.Background()
	conv, err := s.gw.QueryConversation(ctx, conversationId)
	if err != nil {
		log.CtxDebug(ctx, "participant check failed: conversation_id=%s, error=%v", conversationId, err)
		return false
	}
	if conv == nil {
		return false
	}

	s.mu.Lock()
	s.pairCache[conv.PairKeyOf()] = conv
	s.mu.Unlock()
	return conv.HasParticipant(s.selfId)
}
