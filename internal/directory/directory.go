// Package directory builds the home screen list: every other user with
// their unread count, optionally filtered by a search query.
package directory

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"chat-sync/internal/latest"
	"chat-sync/internal/models"
)

// Users is the identity side of the directory.
type Users interface {
	List(ctx context.Context) ([]models.User, error)
	Watch(ctx context.Context) (<-chan []models.User, error)
}

// Unread is the unread side of the directory.
type Unread interface {
	Counts(ctx context.Context, viewerID string) (map[string]int, error)
	Watch(ctx context.Context, viewerID string) (<-chan map[string]int, error)
}

// Filter drops viewerID and, for a non-empty query, keeps users whose
// username contains it ignoring case or whose phone contains it as is.
func Filter(users []models.User, viewerID, query string) []models.User {
	query = strings.TrimSpace(query)
	lower := strings.ToLower(query)
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == viewerID {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(u.Username), lower) &&
			!strings.Contains(u.Phone, query) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Compose filters users and joins in counts, ordered by username then id.
func Compose(users []models.User, counts map[string]int, viewerID, query string) []models.PeerEntry {
	peers := Filter(users, viewerID, query)
	sort.SliceStable(peers, func(i, j int) bool {
		if peers[i].Username != peers[j].Username {
			return peers[i].Username < peers[j].Username
		}
		return peers[i].ID < peers[j].ID
	})
	entries := make([]models.PeerEntry, 0, len(peers))
	for _, p := range peers {
		entries = append(entries, models.PeerEntry{Peer: p, UnreadCount: counts[p.ID]})
	}
	return entries
}

type Directory struct {
	users  Users
	unread Unread
	logger *slog.Logger
}

func New(users Users, unread Unread, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{users: users, unread: unread, logger: logger}
}

// ListPeers composes the directory from one read of each input.
func (d *Directory) ListPeers(ctx context.Context, viewerID, query string) ([]models.PeerEntry, error) {
	users, err := d.users.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := d.unread.Counts(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return Compose(users, counts, viewerID, query), nil
}

// Watch re-composes the directory whenever the user list or the unread
// counts change. Nothing is sent until both inputs have arrived. The
// channel is closed once ctx is done.
func (d *Directory) Watch(ctx context.Context, viewerID, query string) (<-chan []models.PeerEntry, error) {
	ctx, cancel := context.WithCancel(ctx)
	userCh, err := d.users.Watch(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	countCh, err := d.unread.Watch(ctx, viewerID)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan []models.PeerEntry, 1)
	go func() {
		defer close(out)
		defer cancel()

		var (
			users  []models.User
			counts map[string]int
			haveU  bool
			haveC  bool
		)
		for userCh != nil || countCh != nil {
			select {
			case u, ok := <-userCh:
				if !ok {
					userCh = nil
					continue
				}
				users, haveU = u, true
			case c, ok := <-countCh:
				if !ok {
					countCh = nil
					continue
				}
				counts, haveC = c, true
			}
			if haveU && haveC {
				latest.Send(out, Compose(users, counts, viewerID, query))
			}
		}
		d.logger.Debug("directory watch stopped", "viewer_id", viewerID)
	}()
	return out, nil
}
