// Package chatsync orchestrates conversation creation, the optimistic
// send/reconcile pipeline and change-feed subscriptions on top of the
// persistence gateway and the state store.
package chatsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/mbeoliero/orbit/pkg/errcode"
	"github.com/mbeoliero/orbit/store"
)

// Options configures retry behavior for conversation creation
type Options struct {
	// CreateRetries is the max number of insert attempts for transient
	// failures
	CreateRetries int
	// RetryBackoff is the base backoff; attempt n waits n * RetryBackoff
	RetryBackoff time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{CreateRetries: 3, RetryBackoff: 200 * time.Millisecond}
	if o == nil {
		return out
	}
	if o.CreateRetries > 0 {
		out.CreateRetries = o.CreateRetries
	}
	if o.RetryBackoff > 0 {
		out.RetryBackoff = o.RetryBackoff
	}
	return out
}

// Service handles conversation-level and message-level sync for one viewer
type Service struct {
	gw     gateway.Gateway
	feed   gateway.ChangeFeed
	store  *store.Store
	selfId string
	opts   Options

	mu        sync.Mutex
	pairCache map[string]*chat.Conversation // pair key -> conversation
	pending   map[string]*pendingCreate     // pair key -> in-flight creation
}

// pendingCreate coalesces concurrent creations for the same pair
type pendingCreate struct {
	done chan struct{}
	conv *chat.Conversation
	err  error
}

// New creates a new Service
func New(gw gateway.Gateway, feed gateway.ChangeFeed, st *store.Store, selfId string, opts *Options) *Service {
	return &Service{
		gw:        gw,
		feed:      feed,
		store:     st,
		selfId:    selfId,
		opts:      opts.withDefaults(),
		pairCache: make(map[string]*chat.Conversation),
		pending:   make(map[string]*pendingCreate),
	}
}

// Store returns the state store the service feeds
func (s *Service) Store() *store.Store {
	return s.store
}

// ConversationList returns, per conversation the viewer participates in, the
// row, the peer profile, the most recent non-deleted message and the unread
// count. Latest messages and unread counts come from single batched queries.
// The state store is reinitialized from the result.
func (s *Service) ConversationList(ctx context.Context) ([]*chat.ConversationSummary, error) {
	convs, err := s.gw.QueryUserConversations(ctx, s.selfId)
	if err != nil {
		log.CtxError(ctx, "query user conversations failed: user_id=%s, error=%v", s.selfId, err)
		return nil, errcode.ErrInternalServer.Wrap(err)
	}

	ids := make([]string, 0, len(convs))
	for _, conv := range convs {
		ids = append(ids, conv.Id)
	}

	latest, err := s.gw.QueryLatestMessages(ctx, ids)
	if err != nil {
		log.CtxError(ctx, "query latest messages failed: error=%v", err)
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	unread, err := s.gw.CountUnread(ctx, ids, s.selfId)
	if err != nil {
		log.CtxError(ctx, "count unread failed: error=%v", err)
		return nil, errcode.ErrInternalServer.Wrap(err)
	}

	peers := make(map[string]*chat.UserInfo)
	result := make([]*chat.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		peerId := conv.PeerOf(s.selfId)
		peer, ok := peers[peerId]
		if !ok {
			peer, err = s.gw.QueryUser(ctx, peerId)
			if err != nil {
				log.CtxWarn(ctx, "query peer profile failed: user_id=%s, error=%v", peerId, err)
			}
			peers[peerId] = peer
		}
		result = append(result, &chat.ConversationSummary{
			Conversation: conv,
			Peer:         peer,
			LastMessage:  latest[conv.Id],
			UnreadCount:  unread[conv.Id],
		})

		s.mu.Lock()
		s.pairCache[chat.PairKey(conv.UserAId, conv.UserBId)] = conv
		s.mu.Unlock()
	}

	s.store.InitConversations(convs, unread)
	return result, nil
}

// Messages loads a conversation's messages through the gateway and replaces
// the store's list entry by entry
func (s *Service) Messages(ctx context.Context, conversationId string) ([]*chat.Message, error) {
	if conversationId == "" {
		return nil, errcode.ErrInvalidParam
	}
	msgs, err := s.gw.QueryConversationMessages(ctx, conversationId)
	if err != nil {
		log.CtxError(ctx, "query conversation messages failed: conversation_id=%s, error=%v", conversationId, err)
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	for _, m := range msgs {
		s.store.AddMessage(conversationId, m)
	}
	return msgs, nil
}

// MarkAsRead bulk-flips unread messages not authored by the viewer and
// mirrors the transition into the store
func (s *Service) MarkAsRead(ctx context.Context, conversationId string) error {
	if conversationId == "" {
		return errcode.ErrInvalidParam
	}
	if err := s.gw.MarkMessagesRead(ctx, conversationId, s.selfId); err != nil {
		log.CtxError(ctx, "mark messages read failed: conversation_id=%s, error=%v", conversationId, err)
		return errcode.ErrMarkReadFailed.Wrap(err)
	}
	s.store.MarkAllRead(conversationId)
	return nil
}

// EditMessage updates content and edit timestamp. Only the original sender
// may edit; authorization is checked before any mutation.
func (s *Service) EditMessage(ctx context.Context, messageId, content string) error {
	if messageId == "" {
		return errcode.ErrInvalidParam
	}
	if strings.TrimSpace(content) == "" {
		return errcode.ErrEmptyContent
	}

	msg, err := s.gw.QueryMessage(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "query message failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrInternalServer.Wrap(err)
	}
	if msg == nil {
		return errcode.ErrMessageNotFound
	}
	if msg.SenderId != s.selfId {
		return errcode.ErrNotMessageOwner
	}

	now := chat.NowUnixMilli()
	patch := &chat.MessagePatch{Content: &content, EditedAt: &now}
	if err := s.gw.UpdateMessage(ctx, messageId, patch); err != nil {
		log.CtxError(ctx, "update message failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrEditFailed.Wrap(err)
	}
	s.store.UpdateMessage(messageId, patch)
	return nil
}

// DeleteMessage inserts a tombstone keyed by message id and actor id rather
// than deleting the row, then drops the entry from the store. Only the
// original sender may delete.
func (s *Service) DeleteMessage(ctx context.Context, messageId string) error {
	if messageId == "" {
		return errcode.ErrInvalidParam
	}

	msg, err := s.gw.QueryMessage(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "query message failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrInternalServer.Wrap(err)
	}
	if msg == nil {
		return errcode.ErrMessageNotFound
	}
	if msg.SenderId != s.selfId {
		return errcode.ErrNotMessageOwner
	}

	if err := s.gw.InsertTombstone(ctx, messageId, s.selfId); err != nil {
		log.CtxError(ctx, "insert tombstone failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrDeleteFailed.Wrap(err)
	}
	s.store.DeleteMessage(messageId)
	return nil
}
