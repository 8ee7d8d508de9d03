// Package presence derives a best-effort "is this user currently active"
// signal from heartbeat timestamps. There is no server-side session concept:
// staleness, not an explicit disconnect, is what marks a user offline.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/gateway"
)

// Config configures heartbeat timing
type Config struct {
	// HeartbeatInterval is how often the tracked user's timestamp is
	// rewritten
	HeartbeatInterval time.Duration
	// GraceMargin is added to the interval to form the staleness threshold
	GraceMargin time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{HeartbeatInterval: 60 * time.Second, GraceMargin: 5 * time.Second}
	if c == nil {
		return out
	}
	if c.HeartbeatInterval > 0 {
		out.HeartbeatInterval = c.HeartbeatInterval
	}
	if c.GraceMargin > 0 {
		out.GraceMargin = c.GraceMargin
	}
	return out
}

// Listener observes derived online/offline transitions
type Listener func(userId string, online bool)

// Tracker maintains the heartbeat loop for the session user and a cache of
// observed heartbeats for everyone else. Online-ness is recomputed from the
// timestamp on every read; a stale in-flight fetch overwriting the cache is
// safe for the same reason.
type Tracker struct {
	gw        gateway.Gateway
	feed      gateway.ChangeFeed
	interval  time.Duration
	threshold time.Duration
	nowFunc   func() time.Time

	mu           sync.Mutex
	selfId       string
	stopBeat     chan struct{}
	cache        map[string]*chat.PresenceRecord
	derived      map[string]bool
	listeners    map[int]Listener
	nextListener int
	detachFeed   func()
}

// New creates a tracker and attaches it to the change feed
func New(gw gateway.Gateway, feed gateway.ChangeFeed, cfg *Config) *Tracker {
	c := cfg.withDefaults()
	t := &Tracker{
		gw:        gw,
		feed:      feed,
		interval:  c.HeartbeatInterval,
		threshold: c.HeartbeatInterval + c.GraceMargin,
		nowFunc:   time.Now,
		cache:     make(map[string]*chat.PresenceRecord),
		derived:   make(map[string]bool),
		listeners: make(map[int]Listener),
	}
	if feed != nil {
		detach, err := feed.SubscribePresence(context.Background(), t.onPresenceEvent)
		if err != nil {
			log.Warn("presence feed subscribe failed: %v", err)
		} else {
			t.detachFeed = detach
		}
	}
	return t
}

// Start begins heartbeating for userId. A second call for the same user is a
// no-op; a different user tears down the previous tracking first. The first
// heartbeat is written immediately.
func (t *Tracker) Start(userId string) {
	if userId == "" {
		return
	}
	t.mu.Lock()
	if t.selfId == userId && t.stopBeat != nil {
		t.mu.Unlock()
		return
	}
	t.stopTimerLocked()
	t.selfId = userId
	stop := make(chan struct{})
	t.stopBeat = stop
	t.mu.Unlock()

	t.beat(userId, false)
	go t.beatLoop(userId, stop)
}

// Foreground issues one extra heartbeat and restarts the timer if it had
// been cleared. Called when the application becomes foregrounded again;
// heartbeats are never paused while backgrounded.
func (t *Tracker) Foreground() {
	t.mu.Lock()
	userId := t.selfId
	running := t.stopBeat != nil
	if userId != "" && !running {
		stop := make(chan struct{})
		t.stopBeat = stop
		t.mu.Unlock()
		t.beat(userId, false)
		go t.beatLoop(userId, stop)
		return
	}
	t.mu.Unlock()
	if userId != "" {
		t.beat(userId, false)
	}
}

// Stop clears the timer, writes one final timestamp tagged as offline
// intent, and drops the session state. The cache for other users is
// retained.
func (t *Tracker) Stop() {
	t.mu.Lock()
	userId := t.selfId
	t.stopTimerLocked()
	t.selfId = ""
	t.mu.Unlock()

	if userId != "" {
		t.beat(userId, true)
	}
}

// Close stops heartbeating and detaches from the change feed
func (t *Tracker) Close() {
	t.Stop()
	t.mu.Lock()
	detach := t.detachFeed
	t.detachFeed = nil
	t.mu.Unlock()
	if detach != nil {
		detach()
	}
}

func (t *Tracker) stopTimerLocked() {
	if t.stopBeat != nil {
		close(t.stopBeat)
		t.stopBeat = nil
	}
}

func (t *Tracker) beatLoop(userId string, stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.beat(userId, false)
		}
	}
}

// beat writes one heartbeat. Presence is best-effort by design: failures are
// logged and swallowed, never surfaced.
func (t *Tracker) beat(userId string, offline bool) {
	ctx := context.Background()
	rec := &chat.PresenceRecord{
		UserId:          userId,
		LastHeartbeatAt: t.nowFunc().UnixMilli(),
		Offline:         offline,
	}
	if err := t.gw.UpsertHeartbeat(ctx, rec); err != nil {
		log.CtxWarn(ctx, "heartbeat write failed: user_id=%s, error=%v", userId, err)
		return
	}
	t.observe(rec)
}

// onPresenceEvent handles externally observed timestamp changes
func (t *Tracker) onPresenceEvent(ev gateway.PresenceEvent) {
	if ev.Record == nil || ev.Op == gateway.OpDelete {
		return
	}
	t.observe(ev.Record)
}

// observe updates the cache and notifies listeners only when the derived
// boolean changed, to avoid redundant UI churn on every timestamp tick
func (t *Tracker) observe(rec *chat.PresenceRecord) {
	online := rec.OnlineAt(t.nowFunc(), t.threshold)

	t.mu.Lock()
	t.cache[rec.UserId] = rec
	prev, seen := t.derived[rec.UserId]
	t.derived[rec.UserId] = online
	var targets []Listener
	if !seen || prev != online {
		targets = make([]Listener, 0, len(t.listeners))
		for _, l := range t.listeners {
			targets = append(targets, l)
		}
	}
	t.mu.Unlock()

	for _, l := range targets {
		l(rec.UserId, online)
	}
}

// Online recomputes the derived status for a cached user. Unknown users are
// reported offline; use FetchStatus for a read-through.
func (t *Tracker) Online(userId string) bool {
	t.mu.Lock()
	rec := t.cache[userId]
	t.mu.Unlock()
	return rec.OnlineAt(t.nowFunc(), t.threshold)
}

// FetchStatus performs an on-demand read-through when the cache has no entry
// yet, e.g. opening a conversation with someone never seen before
func (t *Tracker) FetchStatus(ctx context.Context, userId string) (bool, error) {
	t.mu.Lock()
	rec, ok := t.cache[userId]
	t.mu.Unlock()
	if ok {
		return rec.OnlineAt(t.nowFunc(), t.threshold), nil
	}

	rec, err := t.gw.QueryHeartbeat(ctx, userId)
	if err != nil {
		log.CtxWarn(ctx, "heartbeat fetch failed: user_id=%s, error=%v", userId, err)
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	t.observe(rec)
	return rec.OnlineAt(t.nowFunc(), t.threshold), nil
}

// Subscribe registers a transition listener and returns a detach function
func (t *Tracker) Subscribe(l Listener) func() {
	t.mu.Lock()
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = l
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Threshold returns the staleness threshold in effect
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}
