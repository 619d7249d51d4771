package conversation

import (
	"sort"

	"chat-sync/internal/models"
)

// Less orders by server timestamp, then by entry id so equal timestamps
// still give a total order.
func Less(a, b models.Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// Sort orders msgs in place.
func Sort(msgs []models.Message) {
	sort.Slice(msgs, func(i, j int) bool { return Less(msgs[i], msgs[j]) })
}
