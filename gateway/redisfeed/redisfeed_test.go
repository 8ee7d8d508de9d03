package redisfeed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/gateway"
)

func TestChannels(t *testing.T) {
	assert.Equal(t, "orbit:feed:messages", MessagesChannel("orbit:"))
	assert.Equal(t, "orbit:feed:conv:c_1", ConversationChannel("orbit:", "c_1"))
	assert.Equal(t, "orbit:feed:presence", PresenceChannel("orbit:"))
}

func TestDecodeMessageEvent(t *testing.T) {
	t.Run("insert with full row", func(t *testing.T) {
		payload, err := json.Marshal(&Envelope{
			Op:    "insert",
			Table: "messages",
			Message: &chat.Message{
				Id: "m_1", ConversationId: "c_1", SenderId: "u_a", Content: "hi",
			},
		})
		require.NoError(t, err)

		ev, ok := DecodeMessageEvent(payload)
		require.True(t, ok)
		assert.Equal(t, gateway.OpInsert, ev.Op)
		// Ids are lifted from the embedded row when absent on the envelope.
		assert.Equal(t, "m_1", ev.MessageId)
		assert.Equal(t, "c_1", ev.ConversationId)
	})

	t.Run("delete carries only the id", func(t *testing.T) {
		payload, err := json.Marshal(&Envelope{
			Op: "delete", Table: "messages", MessageId: "m_1", ConversationId: "c_1",
		})
		require.NoError(t, err)

		ev, ok := DecodeMessageEvent(payload)
		require.True(t, ok)
		assert.Equal(t, gateway.OpDelete, ev.Op)
		assert.Equal(t, "m_1", ev.MessageId)
		assert.Nil(t, ev.Message)
	})

	t.Run("rejects foreign tables and malformed payloads", func(t *testing.T) {
		_, ok := DecodeMessageEvent([]byte(`{"op":"insert","table":"presence"}`))
		assert.False(t, ok)

		_, ok = DecodeMessageEvent([]byte(`{"op":"insert","table":"messages"}`))
		assert.False(t, ok, "no message id anywhere")

		_, ok = DecodeMessageEvent([]byte(`{"op":"truncate","table":"messages","message_id":"m_1"}`))
		assert.False(t, ok)

		_, ok = DecodeMessageEvent([]byte(`not json`))
		assert.False(t, ok)
	})
}

func TestDecodePresenceEvent(t *testing.T) {
	payload, err := json.Marshal(&Envelope{
		Op:    "update",
		Table: "presence",
		Record: &chat.PresenceRecord{
			UserId: "u_a", LastHeartbeatAt: 1700000000000,
		},
	})
	require.NoError(t, err)

	ev, ok := DecodePresenceEvent(payload)
	require.True(t, ok)
	assert.Equal(t, gateway.OpUpdate, ev.Op)
	assert.Equal(t, "u_a", ev.Record.UserId)

	t.Run("requires a record", func(t *testing.T) {
		_, ok := DecodePresenceEvent([]byte(`{"op":"update","table":"presence"}`))
		assert.False(t, ok)
	})
}
