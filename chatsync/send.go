package chatsync

import (
	"context"
	"strings"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/pkg/errcode"
	"github.com/mbeoliero/orbit/pkg/idgen"
)

// SendMessage synthesizes an optimistic entry, places it in the store and
// returns it before the persistence write starts; perceived send time is
// zero at the cost of briefly showing unconfirmed state. The returned
// channel receives the outcome of the background insert and may be awaited
// by call sites that want stronger consistency. A failed insert leaves the
// optimistic entry in place; surfacing retry UI is the UI layer's concern.
func (s *Service) SendMessage(ctx context.Context, conversationId, text string) (*chat.Message, <-chan error, error) {
	if conversationId == "" {
		return nil, nil, errcode.ErrInvalidParam
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, errcode.ErrEmptyContent
	}

	tempId := idgen.TempMessageId()
	now := chat.NowUnixMilli()
	optimistic := &chat.Message{
		Id:             tempId,
		ConversationId: conversationId,
		SenderId:       s.selfId,
		Content:        text,
		SentAt:         now,
		Optimistic:     true,
	}
	s.store.AddMessage(conversationId, optimistic)

	result := make(chan error, 1)
	go s.persistSend(conversationId, tempId, text, now, result)

	return optimistic, result, nil
}

// persistSend runs the actual insert detached from the caller
func (s *Service) persistSend(conversationId, tempId, text string, sentAt int64, result chan<- error) {
	// Detached from the caller's request lifetime on purpose: canceling the
	// UI action must not abort a send already shown as sent.
	ctx := context.Background()

	inserted, err := s.gw.InsertMessage(ctx, &chat.Message{
		ConversationId: conversationId,
		SenderId:       s.selfId,
		Content:        text,
		TempId:         tempId,
		SentAt:         sentAt,
		Delivered:      true,
	})
	if err != nil {
		log.CtxError(ctx, "background message insert failed: conversation_id=%s, temp_id=%s, error=%v",
			conversationId, tempId, err)
		result <- errcode.ErrSendFailed.Wrap(err)
		close(result)
		return
	}

	if err := s.gw.TouchConversation(ctx, conversationId, inserted.Id, inserted.SentAt); err != nil {
		log.CtxWarn(ctx, "conversation touch failed: conversation_id=%s, error=%v", conversationId, err)
	}

	// Reconcile with the direct response; the change-feed echo may land
	// before or after this and collapses into the same single entry.
	s.store.AddMessage(conversationId, inserted)

	result <- nil
	close(result)
}
