package history

import (
	"encoding/json"
	"testing"

	"VnStockRAG/internal/modules/rag/domain/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampWindow(t *testing.T) {
	assert.Equal(t, 50, clampWindow(0, 50))
	assert.Equal(t, 50, clampWindow(-3, 50))
	assert.Equal(t, 50, clampWindow(200, 50))
	assert.Equal(t, 10, clampWindow(10, 50))
	assert.Equal(t, 50, clampWindow(50, 50))
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "rag:history:u1:s1", sessionKey("u1", "s1"))
	// Distinct users never share a key even with colliding session ids.
	assert.NotEqual(t, sessionKey("u1", "s1"), sessionKey("u2", "s1"))
}

func TestEncodeMessageRoundTrip(t *testing.T) {
	payload, err := encodeMessage(chat.RoleUser, "Giá cổ phiếu VNM hôm nay?")
	require.NoError(t, err)

	var msg chat.Message
	require.NoError(t, json.Unmarshal([]byte(payload), &msg))
	assert.Equal(t, chat.RoleUser, msg.Role)
	assert.Equal(t, "Giá cổ phiếu VNM hôm nay?", msg.Content)
	assert.False(t, msg.Timestamp.IsZero())
}
