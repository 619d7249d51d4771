package models

// PeerEntry is one row of the home directory.
type PeerEntry struct {
	Peer        User `json:"peer"`
	UnreadCount int  `json:"unread_count"`
}

// PeersEvent is pushed over the home websocket.
type PeersEvent struct {
	Type  string      `json:"type"`
	Peers []PeerEntry `json:"peers"`
}
