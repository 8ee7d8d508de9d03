package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/orbit/chat"
)

func newTestStore() *Store {
	s := New("u_self")
	s.InitConversations([]*chat.Conversation{
		{Id: "c_1", UserAId: "u_other", UserBId: "u_self", LastActivityAt: 100},
		{Id: "c_2", UserAId: "u_peer", UserBId: "u_self", LastActivityAt: 200},
	}, nil)
	return s
}

func TestStore_AddMessage(t *testing.T) {
	t.Run("append new message", func(t *testing.T) {
		s := newTestStore()
		appended := s.AddMessage("c_1", &chat.Message{Id: "m_1", SenderId: "u_other", Content: "hi", SentAt: 300})
		assert.True(t, appended)

		msgs := s.Messages("c_1")
		require.Len(t, msgs, 1)
		assert.Equal(t, "m_1", msgs[0].Id)

		st, ok := s.Status("m_1")
		require.True(t, ok)
		assert.Equal(t, chat.StatusSent, st)
	})

	t.Run("reconcile by temp id", func(t *testing.T) {
		s := newTestStore()
		s.AddMessage("c_1", &chat.Message{
			Id: "tmp_abc", SenderId: "u_self", Content: "hello", SentAt: 300, Optimistic: true,
		})
		appended := s.AddMessage("c_1", &chat.Message{
			Id: "m_10", TempId: "tmp_abc", SenderId: "u_self", Content: "hello", SentAt: 300, Delivered: true,
		})
		assert.False(t, appended)

		msgs := s.Messages("c_1")
		require.Len(t, msgs, 1)
		assert.Equal(t, "m_10", msgs[0].Id)
		assert.False(t, msgs[0].Optimistic)

		// Status tracking moves to the confirmed id.
		_, ok := s.Status("tmp_abc")
		assert.False(t, ok)
		st, ok := s.Status("m_10")
		require.True(t, ok)
		assert.Equal(t, chat.StatusDelivered, st)
	})

	t.Run("feed echo after reconciliation is absorbed", func(t *testing.T) {
		s := newTestStore()
		s.AddMessage("c_1", &chat.Message{Id: "tmp_abc", SenderId: "u_self", Content: "hello", Optimistic: true})
		confirmed := &chat.Message{Id: "m_10", TempId: "tmp_abc", SenderId: "u_self", Content: "hello", Delivered: true}
		s.AddMessage("c_1", confirmed)
		// The change feed delivers the same insert again.
		echo := *confirmed
		appended := s.AddMessage("c_1", &echo)

		assert.False(t, appended)
		require.Len(t, s.Messages("c_1"), 1)
	})

	t.Run("fallback match by sender and content", func(t *testing.T) {
		s := newTestStore()
		s.AddMessage("c_1", &chat.Message{Id: "tmp_abc", SenderId: "u_self", Content: "ping", Optimistic: true})
		// Confirmed copy arrives without a temp-id reference.
		s.AddMessage("c_1", &chat.Message{Id: "m_11", SenderId: "u_self", Content: "ping"})

		msgs := s.Messages("c_1")
		require.Len(t, msgs, 1)
		assert.Equal(t, "m_11", msgs[0].Id)
	})

	t.Run("distinct messages do not collapse", func(t *testing.T) {
		s := newTestStore()
		s.AddMessage("c_1", &chat.Message{Id: "m_1", SenderId: "u_other", Content: "one", SentAt: 300})
		s.AddMessage("c_1", &chat.Message{Id: "m_2", SenderId: "u_other", Content: "one", SentAt: 301})

		assert.Len(t, s.Messages("c_1"), 2)
	})

	t.Run("bumps conversation activity", func(t *testing.T) {
		s := newTestStore()
		s.AddMessage("c_1", &chat.Message{Id: "m_1", SenderId: "u_other", Content: "hi", SentAt: 300})

		convs := s.Conversations()
		require.NotEmpty(t, convs)
		assert.Equal(t, "c_1", convs[0].Id)
		assert.Equal(t, "m_1", convs[0].LastMessageId)
		assert.EqualValues(t, 300, convs[0].LastActivityAt)
	})
}

func TestStore_UpdateMessage(t *testing.T) {
	s := newTestStore()
	s.AddMessage("c_1", &chat.Message{Id: "m_1", SenderId: "u_self", Content: "before", SentAt: 300})

	content := "after"
	edited := int64(400)
	read := true
	s.UpdateMessage("m_1", &chat.MessagePatch{Content: &content, EditedAt: &edited, Read: &read})

	msgs := s.Messages("c_1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "after", msgs[0].Content)
	assert.EqualValues(t, 400, msgs[0].EditedAt)

	st, ok := s.Status("m_1")
	require.True(t, ok)
	assert.Equal(t, chat.StatusRead, st)

	t.Run("unknown id is a no-op", func(t *testing.T) {
		s.UpdateMessage("m_missing", &chat.MessagePatch{Content: &content})
		assert.Len(t, s.Messages("c_1"), 1)
	})

	t.Run("patch never mutates copies handed out earlier", func(t *testing.T) {
		s := newTestStore()
		s.AddMessage("c_1", &chat.Message{Id: "m_1", SenderId: "u_self", Content: "original", SentAt: 300})
		before := s.Messages("c_1")[0]

		next := "edited"
		s.UpdateMessage("m_1", &chat.MessagePatch{Content: &next})

		assert.Equal(t, "original", before.Content)
		assert.Equal(t, "edited", s.Messages("c_1")[0].Content)
	})
}

func TestStore_DeleteMessage(t *testing.T) {
	s := newTestStore()
	s.AddMessage("c_1", &chat.Message{Id: "m_1", SenderId: "u_self", Content: "hi", SentAt: 300})
	s.AddMessage("c_1", &chat.Message{Id: "m_2", SenderId: "u_other", Content: "yo", SentAt: 301})

	s.DeleteMessage("m_1")

	msgs := s.Messages("c_1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m_2", msgs[0].Id)
	_, ok := s.Status("m_1")
	assert.False(t, ok)

	// Deleting again changes nothing.
	s.DeleteMessage("m_1")
	assert.Len(t, s.Messages("c_1"), 1)
}

func TestStore_Unread(t *testing.T) {
	t.Run("increments for peer messages", func(t *testing.T) {
		s := newTestStore()
		s.IncrementUnread("c_1", "u_other")
		s.IncrementUnread("c_1", "u_other")

		assert.EqualValues(t, 2, s.Unread("c_1"))
		assert.EqualValues(t, 2, s.TotalUnread())
	})

	t.Run("own messages never count", func(t *testing.T) {
		s := newTestStore()
		s.IncrementUnread("c_1", "u_self")
		assert.EqualValues(t, 0, s.Unread("c_1"))
	})

	t.Run("active conversation stays at zero", func(t *testing.T) {
		s := newTestStore()
		s.SetActive("c_1")
		s.IncrementUnread("c_1", "u_other")
		s.IncrementUnread("c_2", "u_peer")

		assert.EqualValues(t, 0, s.Unread("c_1"))
		assert.EqualValues(t, 1, s.Unread("c_2"))
		assert.EqualValues(t, 1, s.TotalUnread())
	})

	t.Run("opening a conversation clears its count", func(t *testing.T) {
		s := newTestStore()
		s.IncrementUnread("c_1", "u_other")
		require.EqualValues(t, 1, s.Unread("c_1"))

		s.SetActive("c_1")
		assert.EqualValues(t, 0, s.Unread("c_1"))
		assert.Equal(t, "c_1", s.ActiveConversation())

		s.ClearActive()
		assert.Equal(t, "", s.ActiveConversation())
		// Closing does not resurrect the cleared count.
		assert.EqualValues(t, 0, s.Unread("c_1"))
	})
}

func TestStore_MarkAllRead(t *testing.T) {
	s := newTestStore()
	s.AddMessage("c_1", &chat.Message{Id: "m_1", SenderId: "u_other", Content: "hi", SentAt: 300, Delivered: true})
	s.AddMessage("c_1", &chat.Message{Id: "m_2", SenderId: "u_other", Content: "yo", SentAt: 301, Delivered: true})
	s.IncrementUnread("c_1", "u_other")
	s.IncrementUnread("c_1", "u_other")

	s.MarkAllRead("c_1")

	assert.EqualValues(t, 0, s.Unread("c_1"))
	for _, id := range []string{"m_1", "m_2"} {
		st, ok := s.Status(id)
		require.True(t, ok)
		assert.Equal(t, chat.StatusRead, st)
	}

	// Idempotent.
	s.MarkAllRead("c_1")
	assert.EqualValues(t, 0, s.Unread("c_1"))
}

func TestStore_ConversationOrder(t *testing.T) {
	s := New("u_self")
	s.InitConversations([]*chat.Conversation{
		{Id: "c_b", LastActivityAt: 100},
		{Id: "c_a", LastActivityAt: 100},
		{Id: "c_new", LastActivityAt: 500},
	}, nil)

	convs := s.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "c_new", convs[0].Id)
	// Equal activity falls back to id order.
	assert.Equal(t, "c_a", convs[1].Id)
	assert.Equal(t, "c_b", convs[2].Id)

	t.Run("pinned sorts first regardless of activity", func(t *testing.T) {
		s.SetPinned("c_b", true)
		convs := s.Conversations()
		assert.Equal(t, "c_b", convs[0].Id)
		assert.True(t, convs[0].Pinned)

		s.SetPinned("c_b", false)
		convs = s.Conversations()
		assert.Equal(t, "c_new", convs[0].Id)
	})

	t.Run("pin preference survives re-init", func(t *testing.T) {
		s.SetPinned("c_a", true)
		s.InitConversations([]*chat.Conversation{
			{Id: "c_a", LastActivityAt: 100},
			{Id: "c_new", LastActivityAt: 500},
		}, nil)
		convs := s.Conversations()
		assert.Equal(t, "c_a", convs[0].Id)
	})
}

func TestStore_Subscribe(t *testing.T) {
	t.Run("immediate snapshot then per-mutation", func(t *testing.T) {
		s := newTestStore()
		var snaps []*Snapshot
		detach := s.Subscribe(func(snap *Snapshot) {
			snaps = append(snaps, snap)
		})
		require.Len(t, snaps, 1)

		s.AddMessage("c_1", &chat.Message{Id: "m_1", SenderId: "u_other", Content: "hi", SentAt: 300})
		require.Len(t, snaps, 2)
		assert.Equal(t, "c_1", snaps[1].Conversations[0].Id)

		detach()
		s.AddMessage("c_1", &chat.Message{Id: "m_2", SenderId: "u_other", Content: "yo", SentAt: 301})
		assert.Len(t, snaps, 2)
	})

	t.Run("snapshot carries unread totals", func(t *testing.T) {
		s := newTestStore()
		var last *Snapshot
		s.Subscribe(func(snap *Snapshot) { last = snap })

		s.IncrementUnread("c_1", "u_other")
		require.NotNil(t, last)
		assert.EqualValues(t, 1, last.Unread["c_1"])
		assert.EqualValues(t, 1, last.TotalUnread)
	})

	t.Run("panicking listener does not block others", func(t *testing.T) {
		s := newTestStore()
		s.Subscribe(func(*Snapshot) { panic("boom") })
		calls := 0
		s.Subscribe(func(*Snapshot) { calls++ })

		s.IncrementUnread("c_1", "u_other")
		assert.Equal(t, 2, calls)
	})

	t.Run("listener may read back through getters", func(t *testing.T) {
		s := newTestStore()
		var total int64
		s.Subscribe(func(*Snapshot) {
			total = s.TotalUnread()
		})
		s.IncrementUnread("c_1", "u_other")
		assert.EqualValues(t, 1, total)
	})
}
