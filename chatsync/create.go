package chatsync

import (
	"context"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/mbeoliero/orbit/pkg/errcode"
)

// CreateOrGetConversation returns the single conversation for the unordered
// pair, creating it if needed. Concurrent calls for the same pair within the
// process coalesce on one in-flight creation; cross-process races are
// resolved by treating a uniqueness conflict on insert as "someone else
// already won" and re-querying.
func (s *Service) CreateOrGetConversation(ctx context.Context, userA, userB string) (*chat.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, errcode.ErrMissingParticipant
	}
	if userA == userB {
		return nil, errcode.ErrSelfConversation
	}

	key := chat.PairKey(userA, userB)

	s.mu.Lock()
	if conv, ok := s.pairCache[key]; ok {
		s.mu.Unlock()
		return conv, nil
	}
	if p, ok := s.pending[key]; ok {
		// Another caller for the same pair is already in flight; two UI
		// surfaces can trigger conversation start within the same tick.
		s.mu.Unlock()
		select {
		case <-p.done:
			return p.conv, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pendingCreate{done: make(chan struct{})}
	s.pending[key] = p
	s.mu.Unlock()

	conv, err := s.createOrGet(ctx, userA, userB)

	s.mu.Lock()
	if err == nil {
		s.pairCache[key] = conv
	}
	delete(s.pending, key)
	s.mu.Unlock()

	p.conv, p.err = conv, err
	close(p.done)
	return conv, err
}

// createOrGet performs the query-then-insert dance against the gateway
func (s *Service) createOrGet(ctx context.Context, userA, userB string) (*chat.Conversation, error) {
	existing, err := s.gw.QueryConversationByPair(ctx, userA, userB)
	if err != nil {
		log.CtxError(ctx, "query conversation by pair failed: error=%v", err)
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	if existing != nil {
		return existing, nil
	}

	a, b := chat.SortPair(userA, userB)
	var lastErr error
	for attempt := 1; attempt <= s.opts.CreateRetries; attempt++ {
		now := chat.NowUnixMilli()
		inserted, err := s.gw.InsertConversation(ctx, &chat.Conversation{
			UserAId:        a,
			UserBId:        b,
			LastActivityAt: now,
		})
		if err == nil {
			log.CtxInfo(ctx, "conversation created: id=%s, pair=%s", inserted.Id, chat.PairKey(a, b))
			return inserted, nil
		}

		if gateway.IsConflict(err) {
			// A concurrent creator won the race; return the winner's row.
			winner, qerr := s.gw.QueryConversationByPair(ctx, userA, userB)
			if qerr != nil {
				return nil, errcode.ErrConvCreateFailed.Wrap(qerr)
			}
			if winner == nil {
				return nil, errcode.ErrConvCreateFailed.Wrap(err)
			}
			log.CtxDebug(ctx, "conversation creation lost race: id=%s", winner.Id)
			return winner, nil
		}

		if !gateway.IsTransient(err) {
			return nil, errcode.ErrConvCreateFailed.Wrap(err)
		}

		lastErr = err
		log.CtxWarn(ctx, "conversation insert transient failure: attempt=%d, error=%v", attempt, err)
		if attempt < s.opts.CreateRetries {
			select {
			case <-time.After(time.Duration(attempt) * s.opts.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, errcode.ErrConvCreateFailed.Wrap(lastErr)
}
