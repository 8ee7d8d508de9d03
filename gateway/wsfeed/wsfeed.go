// Package wsfeed implements the change feed over a single websocket
// connection to the feed endpoint. All subscriptions share one connection;
// scoping to a conversation happens client side. The connection is kept
// alive with ping/pong and reconnected with bounded backoff, so a feed that
// drops recovers without tearing down the subscribers.
package wsfeed

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/config"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/mbeoliero/orbit/gateway/redisfeed"
	"github.com/mbeoliero/orbit/pkg/errcode"
)

type subscription struct {
	// conversationId scopes message delivery; empty means all conversations
	conversationId string
	insertsOnly    bool
	onMessage      func(gateway.MessageEvent)
	onPresence     func(gateway.PresenceEvent)
}

// Feed implements gateway.ChangeFeed over a websocket connection
type Feed struct {
	cfg config.FeedConfig

	mu       sync.Mutex
	subs     map[int]*subscription
	nextSub  int
	running  bool
	closed   bool
	shutdown chan struct{}
}

// New creates a Feed. The connection is dialed lazily on the first
// subscription.
func New(cfg config.FeedConfig) *Feed {
	return &Feed{
		cfg:      cfg,
		subs:     make(map[int]*subscription),
		shutdown: make(chan struct{}),
	}
}

// SubscribeConversationMessages delivers message events for one conversation
func (f *Feed) SubscribeConversationMessages(ctx context.Context, conversationId string, fn func(gateway.MessageEvent)) (func(), error) {
	return f.subscribe(ctx, &subscription{conversationId: conversationId, onMessage: fn})
}

// SubscribeMessageInserts delivers insert events across all messages
func (f *Feed) SubscribeMessageInserts(ctx context.Context, fn func(gateway.MessageEvent)) (func(), error) {
	return f.subscribe(ctx, &subscription{insertsOnly: true, onMessage: fn})
}

// SubscribePresence delivers presence timestamp changes
func (f *Feed) SubscribePresence(ctx context.Context, fn func(gateway.PresenceEvent)) (func(), error) {
	return f.subscribe(ctx, &subscription{onPresence: fn})
}

func (f *Feed) subscribe(ctx context.Context, sub *subscription) (func(), error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errcode.ErrFeedClosed
	}
	id := f.nextSub
	f.nextSub++
	f.subs[id] = sub
	if !f.running {
		f.running = true
		go f.run()
	}
	f.mu.Unlock()

	log.CtxDebug(ctx, "feed subscription %d registered", id)
	detach := func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
	return detach, nil
}

// Close tears down the connection and drops all subscriptions
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.subs = make(map[int]*subscription)
	close(f.shutdown)
	f.mu.Unlock()
}

// run dials the feed endpoint and pumps events until Close. Each failed
// connection doubles the wait, capped at MaxReconnectWait; a successful
// session resets it.
func (f *Feed) run() {
	wait := f.cfg.ReconnectBackoff
	for {
		select {
		case <-f.shutdown:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.cfg.URL, nil)
		if err != nil {
			log.Warn("feed dial %s failed: %v, retrying in %v", f.cfg.URL, err, wait)
			select {
			case <-f.shutdown:
				return
			case <-time.After(wait):
			}
			if wait *= 2; wait > f.cfg.MaxReconnectWait {
				wait = f.cfg.MaxReconnectWait
			}
			continue
		}

		wait = f.cfg.ReconnectBackoff
		f.session(conn)
	}
}

// session reads envelopes off one connection until it breaks
func (f *Feed) session(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(f.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(f.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(f.cfg.PongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go f.pingLoop(conn, done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.shutdown:
			default:
				log.Warn("feed read error: %v", err)
			}
			return
		}
		f.dispatch(payload)
	}
}

// pingLoop keeps the connection alive; write failure ends the session via
// the read deadline
func (f *Feed) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-f.shutdown:
			conn.Close()
			return
		}
	}
}

// dispatch decodes one envelope and fans it out to matching subscribers
func (f *Feed) dispatch(payload []byte) {
	msgEv, msgOk := redisfeed.DecodeMessageEvent(payload)
	presEv, presOk := redisfeed.DecodePresenceEvent(payload)
	if !msgOk && !presOk {
		return
	}

	f.mu.Lock()
	targets := make([]*subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		targets = append(targets, sub)
	}
	f.mu.Unlock()

	for _, sub := range targets {
		switch {
		case msgOk && sub.onMessage != nil:
			if sub.conversationId != "" && sub.conversationId != msgEv.ConversationId {
				continue
			}
			if sub.insertsOnly && msgEv.Op != gateway.OpInsert {
				continue
			}
			sub.onMessage(msgEv)
		case presOk && sub.onPresence != nil:
			sub.onPresence(presEv)
		}
	}
}

var _ gateway.ChangeFeed = (*Feed)(nil)
