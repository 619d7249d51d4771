package models

// Message is one record under chats/{conversationId}. ID is the
// store-assigned key and is never written inside the record.
type Message struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Body      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
}

// View is the ordered message view of one conversation.
type View struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// ChatEvent is pushed over chat websockets.
type ChatEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Messages       []Message `json:"messages"`
	Error          string    `json:"error,omitempty"`
}
