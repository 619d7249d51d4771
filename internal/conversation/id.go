// Package conversation derives conversation ids from participant pairs and
// turns raw store snapshots into ordered message views.
package conversation

import (
	"fmt"
	"sort"
	"strings"

	"chat-sync/internal/models"
)

// Separator joins the two participant ids. Participant ids may not contain
// it, which keeps ids collision-free.
const Separator = "_"

// ID returns the conversation id for a and b. It is the same whichever
// participant initiates.
func ID(a, b string) (string, error) {
	if err := validParticipant(a); err != nil {
		return "", err
	}
	if err := validParticipant(b); err != nil {
		return "", err
	}
	if a == b {
		return "", fmt.Errorf("%w: cannot chat with self", models.ErrInvalidParticipant)
	}
	participants := []string{a, b}
	sort.Strings(participants)
	return strings.Join(participants, Separator), nil
}

// Participants splits a conversation id back into its two ids.
func Participants(id string) (string, string, error) {
	parts := strings.Split(id, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return "", "", fmt.Errorf("%w: malformed conversation id %q", models.ErrInvalidParticipant, id)
	}
	if parts[0] > parts[1] {
		return "", "", fmt.Errorf("%w: unsorted conversation id %q", models.ErrInvalidParticipant, id)
	}
	return parts[0], parts[1], nil
}

// PeerOf returns the other participant of id from viewer's side, and false
// when viewer does not take part in id.
func PeerOf(id, viewer string) (string, bool) {
	a, b, err := Participants(id)
	if err != nil {
		return "", false
	}
	switch viewer {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// Includes reports whether user is one of the participants of id.
func Includes(id, user string) bool {
	_, ok := PeerOf(id, user)
	return ok
}

func validParticipant(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", models.ErrInvalidParticipant)
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %q contains %q", models.ErrInvalidParticipant, id, Separator)
	}
	return nil
}
