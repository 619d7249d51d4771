package conversation

import (
	"chat-sync/internal/models"
	"chat-sync/internal/tree"
)

// Messages decodes the value of chats/{id} into an ordered slice. Children
// that are not message records, including ones without a sender, are
// skipped.
func Messages(value any) []models.Message {
	children, ok := value.(map[string]any)
	if !ok {
		return []models.Message{}
	}
	msgs := make([]models.Message, 0, len(children))
	for key, child := range children {
		if _, ok := child.(map[string]any); !ok {
			continue
		}
		var msg models.Message
		if err := tree.Decode(child, &msg); err != nil || msg.SenderID == "" {
			continue
		}
		msg.ID = key
		msgs = append(msgs, msg)
	}
	Sort(msgs)
	return msgs
}

// All decodes the value of the chats root into per-conversation slices.
func All(value any) map[string][]models.Message {
	chats, ok := value.(map[string]any)
	if !ok {
		return map[string][]models.Message{}
	}
	out := make(map[string][]models.Message, len(chats))
	for id, child := range chats {
		out[id] = Messages(child)
	}
	return out
}

// NewView builds the ordered view of conversation id from its snapshot.
func NewView(id string, snap tree.Snapshot) models.View {
	return models.View{ConversationID: id, Messages: Messages(snap.Value)}
}
