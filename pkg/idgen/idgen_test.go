package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempMessageId(t *testing.T) {
	id := TempMessageId()
	assert.True(t, IsTempId(id))
	assert.NotEqual(t, id, TempMessageId())

	assert.False(t, IsTempId("m_123"))
	assert.False(t, IsTempId("tmp_"))
	assert.False(t, IsTempId(""))
}

func TestSonyflakeGenerator(t *testing.T) {
	gen, err := NewSonyflakeGenerator(1)
	require.NoError(t, err)

	a, err := gen.NextID()
	require.NoError(t, err)
	b, err := gen.NextID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.False(t, IsTempId(a))
}

func TestUUIDGenerator(t *testing.T) {
	gen := NewUUIDGenerator()
	a, err := gen.NextID()
	require.NoError(t, err)
	b, err := gen.NextID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
