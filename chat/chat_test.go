package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortPair(t *testing.T) {
	a, b := SortPair("u_zeta", "u_alpha")
	assert.Equal(t, "u_alpha", a)
	assert.Equal(t, "u_zeta", b)

	a, b = SortPair("u_alpha", "u_zeta")
	assert.Equal(t, "u_alpha", a)
	assert.Equal(t, "u_zeta", b)
}

func TestPairKey(t *testing.T) {
	// Order of arguments never changes the key.
	assert.Equal(t, PairKey("u_a", "u_b"), PairKey("u_b", "u_a"))
	assert.Equal(t, "u_a:u_b", PairKey("u_b", "u_a"))

	// Ids containing underscores stay unambiguous.
	assert.NotEqual(t, PairKey("u_a_b", "u_c"), PairKey("u_a", "b_u_c"))
}

func TestConversation_Participants(t *testing.T) {
	conv := &Conversation{Id: "c_1", UserAId: "u_a", UserBId: "u_b"}

	assert.True(t, conv.HasParticipant("u_a"))
	assert.True(t, conv.HasParticipant("u_b"))
	assert.False(t, conv.HasParticipant("u_c"))
	assert.False(t, conv.HasParticipant(""))

	assert.Equal(t, "u_b", conv.PeerOf("u_a"))
	assert.Equal(t, "u_a", conv.PeerOf("u_b"))
	assert.Equal(t, "u_a:u_b", conv.PairKeyOf())
}

func TestMessage_Status(t *testing.T) {
	cases := []struct {
		name      string
		delivered bool
		read      bool
		want      MessageStatus
	}{
		{"unconfirmed", false, false, StatusSent},
		{"delivered", true, false, StatusDelivered},
		{"read", true, true, StatusRead},
		{"read wins even without delivered flag", false, true, StatusRead},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &Message{Delivered: tc.delivered, Read: tc.read}
			assert.Equal(t, tc.want, m.Status())
		})
	}
}

func TestMessagePatch_Apply(t *testing.T) {
	m := &Message{Id: "m_1", Content: "before", Delivered: false}

	content := "after"
	edited := int64(100)
	delivered := true
	(&MessagePatch{Content: &content, EditedAt: &edited, Delivered: &delivered}).Apply(m)

	assert.Equal(t, "after", m.Content)
	assert.EqualValues(t, 100, m.EditedAt)
	assert.True(t, m.Delivered)
	assert.False(t, m.Read)

	// Nil fields leave the target untouched.
	(&MessagePatch{}).Apply(m)
	assert.Equal(t, "after", m.Content)
}
