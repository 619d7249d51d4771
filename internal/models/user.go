package models

// Screen is the presence state a user is in.
type Screen string

const (
	ScreenHome Screen = "home"
	ScreenChat Screen = "chat"
	ScreenAway Screen = "away"
)

// Valid reports whether s is one of the known screens.
func (s Screen) Valid() bool {
	switch s {
	case ScreenHome, ScreenChat, ScreenAway:
		return true
	}
	return false
}

// User is one record under users/{id}.
type User struct {
	ID              string  `json:"id"`
	Username        string  `json:"username"`
	Phone           string  `json:"phone"`
	ProfileImageURL *string `json:"profileImage"`
	CurrentScreen   Screen  `json:"currentScreen,omitempty"`
	CurrentChatID   *string `json:"currentChatId"`
	IsActive        bool    `json:"isActive"`
	LastLogin       int64   `json:"lastLogin,omitempty"`
	CreatedAt       int64   `json:"createdAt,omitempty"`
}
