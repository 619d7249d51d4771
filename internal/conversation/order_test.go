package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chat-sync/internal/models"
	"chat-sync/internal/tree"
)

func TestSortByTimestampThenID(t *testing.T) {
	msgs := []models.Message{
		{ID: "c", Timestamp: 20},
		{ID: "b", Timestamp: 10},
		{ID: "a", Timestamp: 20},
		{ID: "d", Timestamp: 5},
	}
	Sort(msgs)

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"d", "b", "a", "c"}, ids)
}

func TestTiedTimestampsOrderDeterministically(t *testing.T) {
	value := map[string]any{
		"m2": map[string]any{"senderId": "bob", "message": "hi", "timestamp": int64(100), "read": false},
		"m1": map[string]any{"senderId": "alice", "message": "hola", "timestamp": int64(100), "read": false},
	}
	for i := 0; i < 50; i++ {
		msgs := Messages(value)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, "m2", msgs[1].ID)
	}
}

func TestMessagesDecodesRecords(t *testing.T) {
	value := map[string]any{
		"m1":    map[string]any{"senderId": "alice", "message": "hola", "timestamp": int64(5), "read": true},
		"stray": "not a message",
	}
	msgs := Messages(value)
	assert.Equal(t, []models.Message{{ID: "m1", SenderID: "alice", Body: "hola", Timestamp: 5, Read: true}}, msgs)

	assert.Empty(t, Messages(nil))
}

func TestMessagesSkipsRecordsWithoutSender(t *testing.T) {
	value := map[string]any{
		"m1":    map[string]any{"senderId": "alice", "message": "hola", "timestamp": int64(5)},
		"ghost": map[string]any{"read": true},
	}
	msgs := Messages(value)
	assert.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestAllAndNewView(t *testing.T) {
	value := map[string]any{
		"alice_bob": map[string]any{
			"m1": map[string]any{"senderId": "alice", "message": "x", "timestamp": int64(1)},
		},
	}
	all := All(value)
	assert.Len(t, all["alice_bob"], 1)

	view := NewView("alice_bob", tree.Snapshot{Value: value["alice_bob"], Exists: true})
	assert.Equal(t, "alice_bob", view.ConversationID)
	assert.Equal(t, "x", view.Messages[0].Body)
}
