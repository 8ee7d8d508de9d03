// Package store holds the in-process conversation/message state the UI
// renders from. All mutation goes through the named operations so the
// invariants (one live entry per logical message, active conversation unread
// pinned at zero) are enforced at a single choke point.
package store

import (
	"sort"
	"sync"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/chat"
)

// Listener observes store changes. It is invoked once on subscribe with the
// current snapshot and again, synchronously, after every mutation.
type Listener func(snap *Snapshot)

// Snapshot is the read model handed to listeners
type Snapshot struct {
	Conversations        []*chat.Conversation
	Unread               map[string]int64
	TotalUnread          int64
	ActiveConversationId string
}

// Store is the conversation state container. Constructed per client session
// and rebuilt from scratch on session start; safe for use from UI goroutines
// and feed callbacks concurrently.
type Store struct {
	mu            sync.RWMutex
	selfId        string
	conversations map[string]*chat.Conversation
	messages      map[string][]*chat.Message       // keyed by conversation id
	statuses      map[string]chat.MessageStatus    // keyed by message id
	unread        map[string]int64                 // keyed by conversation id
	pinned        map[string]bool                  // keyed by conversation id
	activeId      string
	listeners     map[int]Listener
	nextListener  int
}

// New creates an empty store for the given viewer
func New(selfId string) *Store {
	return &Store{
		selfId:        selfId,
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string][]*chat.Message),
		statuses:      make(map[string]chat.MessageStatus),
		unread:        make(map[string]int64),
		pinned:        make(map[string]bool),
		listeners:     make(map[int]Listener),
	}
}

// InitConversations replaces the conversation map and resets unread counts
// from each item's supplied count
func (s *Store) InitConversations(convs []*chat.Conversation, unread map[string]int64) {
	s.mu.Lock()
	s.conversations = make(map[string]*chat.Conversation, len(convs))
	s.unread = make(map[string]int64, len(convs))
	for _, conv := range convs {
		if conv == nil || conv.Id == "" {
			continue
		}
		c := *conv
		c.UnreadCount = unread[c.Id]
		c.Pinned = s.pinned[c.Id]
		s.conversations[c.Id] = &c
		if n := unread[c.Id]; n > 0 {
			s.unread[c.Id] = n
		}
	}
	// The active conversation never accrues unread.
	if s.activeId != "" {
		s.clearUnreadLocked(s.activeId)
	}
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

// AddMessage adds or reconciles a message in a conversation's list. An entry
// matching by confirmed id, or by temporary id for unconfirmed entries, is
// replaced in place so the optimistic and confirmed copies of one logical
// send collapse into a single entry. Otherwise the message is appended.
// Reports whether a new entry was appended; a redelivered event reconciles
// into the existing entry and reports false, which is what keeps unread
// counting correct under at-least-once feed delivery.
func (s *Store) AddMessage(conversationId string, msg *chat.Message) bool {
	if msg == nil || conversationId == "" {
		return false
	}
	s.mu.Lock()
	list := s.messages[conversationId]
	idx := s.matchLocked(list, msg)
	appended := idx < 0
	if idx >= 0 {
		old := list[idx]
		if old.Id != msg.Id {
			delete(s.statuses, old.Id)
		}
		list[idx] = msg
	} else {
		list = append(list, msg)
	}
	s.messages[conversationId] = list
	s.statuses[msg.Id] = msg.Status()

	if conv, ok := s.conversations[conversationId]; ok {
		conv.LastMessageId = msg.Id
		if msg.SentAt > conv.LastActivityAt {
			conv.LastActivityAt = msg.SentAt
		}
	}
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
	return appended
}

// matchLocked finds the list index holding the same logical message, if any
func (s *Store) matchLocked(list []*chat.Message, msg *chat.Message) int {
	for i, m := range list {
		if m.Id != "" && m.Id == msg.Id {
			return i
		}
		if msg.TempId != "" && (m.Id == msg.TempId || (m.TempId != "" && m.TempId == msg.TempId)) {
			return i
		}
		// Fallback for unconfirmed entries without a temp-id reference:
		// match by sender and content. Ambiguous when the same text is sent
		// twice in quick succession; first match wins.
		if m.Optimistic && !msg.Optimistic && msg.TempId == "" &&
			m.SenderId == msg.SenderId && m.Content == msg.Content {
			return i
		}
	}
	return -1
}

// UpdateMessage applies a patch to a message located by scanning
// conversations; message ids are globally unique so the owning conversation
// is not separately indexed. A missing id is a no-op, not an error.
// The patched struct replaces the old one rather than being mutated in
// place, so pointers handed out earlier never change under a reader.
func (s *Store) UpdateMessage(messageId string, patch *chat.MessagePatch) {
	if messageId == "" || patch == nil {
		return
	}
	s.mu.Lock()
	convId, idx := s.locateLocked(messageId)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	msg := *s.messages[convId][idx]
	patch.Apply(&msg)
	s.messages[convId][idx] = &msg
	s.statuses[messageId] = msg.Status()
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

// DeleteMessage removes a message from its conversation's list and from the
// status map. A missing id is a no-op.
func (s *Store) DeleteMessage(messageId string) {
	if messageId == "" {
		return
	}
	s.mu.Lock()
	found := false
	for convId, list := range s.messages {
		for i, m := range list {
			if m.Id == messageId {
				s.messages[convId] = append(list[:i], list[i+1:]...)
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return
	}
	delete(s.statuses, messageId)
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

// IncrementUnread bumps the unread counter for a conversation. No-op when
// the conversation is currently active or the sender is the viewer; this is
// what keeps the active conversation's unread count pinned at zero.
func (s *Store) IncrementUnread(conversationId, senderId string) {
	s.mu.Lock()
	if conversationId == s.activeId || senderId == s.selfId {
		s.mu.Unlock()
		return
	}
	s.unread[conversationId]++
	if conv, ok := s.conversations[conversationId]; ok {
		conv.UnreadCount++
	}
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

// ClearUnread zeroes the unread counter for a conversation
func (s *Store) ClearUnread(conversationId string) {
	s.mu.Lock()
	s.clearUnreadLocked(conversationId)
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

// MarkAllRead zeroes the counter and marks every message in the
// conversation's list as read in the status map. Idempotent.
func (s *Store) MarkAllRead(conversationId string) {
	s.mu.Lock()
	s.clearUnreadLocked(conversationId)
	for _, m := range s.messages[conversationId] {
		s.statuses[m.Id] = chat.StatusRead
	}
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

// SetActive sets the single active-conversation pointer and clears that
// conversation's unread count
func (s *Store) SetActive(conversationId string) {
	s.mu.Lock()
	s.activeId = conversationId
	s.clearUnreadLocked(conversationId)
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

// ClearActive clears the active-conversation pointer
func (s *Store) ClearActive() {
	s.mu.Lock()
	s.activeId = ""
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

// SetPinned records the viewer-local pin preference for a conversation.
// Pinned conversations sort before everything else.
func (s *Store) SetPinned(conversationId string, pinned bool) {
	s.mu.Lock()
	if pinned {
		s.pinned[conversationId] = true
	} else {
		delete(s.pinned, conversationId)
	}
	if conv, ok := s.conversations[conversationId]; ok {
		conv.Pinned = pinned
	}
	notify := s.prepareNotifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Store) clearUnreadLocked(conversationId string) {
	delete(s.unread, conversationId)
	if conv, ok := s.conversations[conversationId]; ok {
		conv.UnreadCount = 0
	}
}

// sortConversations orders pinned first, then last activity descending,
// ties broken by id for stability
func sortConversations(list []*chat.Conversation) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		if list[i].LastActivityAt != list[j].LastActivityAt {
			return list[i].LastActivityAt > list[j].LastActivityAt
		}
		return list[i].Id < list[j].Id
	})
}

// Conversations returns the conversation list in display order
func (s *Store) Conversations() []*chat.Conversation {
	s.mu.RLock()
	out := make([]*chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		c := *conv
		out = append(out, &c)
	}
	s.mu.RUnlock()
	sortConversations(out)
	return out
}

// Messages returns the message list for a conversation as per-entry copies,
// never aliases into store state
func (s *Store) Messages(conversationId string) []*chat.Message {
	s.mu.RLock()
	list := s.messages[conversationId]
	out := make([]*chat.Message, len(list))
	for i, m := range list {
		c := *m
		out[i] = &c
	}
	s.mu.RUnlock()
	return out
}

// Status returns the derived status for a message id
func (s *Store) Status(messageId string) (chat.MessageStatus, bool) {
	s.mu.RLock()
	st, ok := s.statuses[messageId]
	s.mu.RUnlock()
	return st, ok
}

// Unread returns the unread count for one conversation
func (s *Store) Unread(conversationId string) int64 {
	s.mu.RLock()
	n := s.unread[conversationId]
	s.mu.RUnlock()
	return n
}

// TotalUnread returns the sum of unread counts across all conversations,
// used for badge counts
func (s *Store) TotalUnread() int64 {
	s.mu.RLock()
	var total int64
	for _, n := range s.unread {
		total += n
	}
	s.mu.RUnlock()
	return total
}

// ActiveConversation returns the currently active conversation id, empty if
// none
func (s *Store) ActiveConversation() string {
	s.mu.RLock()
	id := s.activeId
	s.mu.RUnlock()
	return id
}

// Subscribe registers a listener, invokes it once immediately with the
// current snapshot, and returns a detach function
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	snap := s.snapshotLocked()
	s.mu.Unlock()

	invoke(l, snap)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// prepareNotifyLocked captures the snapshot and listener set under the lock
// and returns a closure the mutator runs after unlocking, so a listener can
// call getters without deadlocking. Delivery stays synchronous with respect
// to the mutating call; a panic in one listener never prevents the others
// from running.
func (s *Store) prepareNotifyLocked() func() {
	if len(s.listeners) == 0 {
		return func() {}
	}
	snap := s.snapshotLocked()
	targets := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		targets = append(targets, l)
	}
	return func() {
		for _, l := range targets {
			invoke(l, snap)
		}
	}
}

func invoke(l Listener, snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("store listener panic: %v", r)
		}
	}()
	l(snap)
}

func (s *Store) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Conversations:        make([]*chat.Conversation, 0, len(s.conversations)),
		Unread:               make(map[string]int64, len(s.unread)),
		ActiveConversationId: s.activeId,
	}
	for _, conv := range s.conversations {
		c := *conv
		snap.Conversations = append(snap.Conversations, &c)
	}
	sortConversations(snap.Conversations)
	for id, n := range s.unread {
		snap.Unread[id] = n
		snap.TotalUnread += n
	}
	return snap
}

// locateLocked finds a message by id across all conversations, returning
// the owning conversation id and list index, or -1 when absent
func (s *Store) locateLocked(messageId string) (string, int) {
	for convId, list := range s.messages {
		for i, m := range list {
			if m.Id == messageId {
				return convId, i
			}
		}
	}
	return "", -1
}
