// Package presence records which screen and conversation each user is
// looking at. Presence is advisory: failed writes are logged and dropped.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const releaseTimeout = 5 * time.Second

// Writer persists presence fields on a user record.
type Writer interface {
	PatchUser(ctx context.Context, id string, fields map[string]any) error
}

// Reader loads user records.
type Reader interface {
	Get(ctx context.Context, id string) (models.User, error)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRecords lets Viewing consult the stored user record for presence
// asserted by other processes.
func WithRecords(records Reader) Option {
	return func(t *Tracker) { t.records = records }
}

// State is the presence a tracker last asserted for a user.
type State struct {
	Screen         models.Screen
	ConversationID string
	Active         bool
}

// Tracker owns the presence state machine for users connected to this
// process and mirrors it into the user records.
type Tracker struct {
	users   Writer
	records Reader
	logger  *slog.Logger

	mu     sync.Mutex
	states map[string]State
	leases map[string][]lease
	seq    uint64
}

// lease is one live Acquire. Leases per user are kept oldest first.
type lease struct {
	token uint64
	state State
}

func NewTracker(users Writer, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		users:  users,
		logger: logger,
		states: make(map[string]State),
		leases: make(map[string][]lease),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnterScreen marks userID active on screen. conversationID is required for
// the chat screen and ignored otherwise.
func (t *Tracker) EnterScreen(ctx context.Context, userID string, screen models.Screen, conversationID string) error {
	next, err := entering(userID, screen, conversationID)
	if err != nil {
		return err
	}
	t.apply(ctx, userID, next)
	return nil
}

// LeaveScreen marks userID inactive and parks them on fallback, which must
// be home or away.
func (t *Tracker) LeaveScreen(ctx context.Context, userID string, fallback models.Screen) error {
	next, err := leaving(userID, fallback)
	if err != nil {
		return err
	}
	t.apply(ctx, userID, next)
	return nil
}

// Acquire enters screen and returns a release func. Releasing the newest
// live lease restores the screen of the next older live lease, or writes
// fallback when none is left. Releasing an older lease writes nothing.
// Release is idempotent and ignores cancellation of ctx.
func (t *Tracker) Acquire(ctx context.Context, userID string, screen models.Screen, conversationID string, fallback models.Screen) (func(), error) {
	next, err := entering(userID, screen, conversationID)
	if err != nil {
		return nil, err
	}
	parked, err := leaving(userID, fallback)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.seq++
	token := t.seq
	t.leases[userID] = append(t.leases[userID], lease{token: token, state: next})
	t.mu.Unlock()

	t.apply(ctx, userID, next)

	detached := context.WithoutCancel(ctx)
	var once sync.Once
	release := func() {
		once.Do(func() {
			restore, ok := t.drop(userID, token, parked)
			if !ok {
				t.logger.Debug("presence release superseded", "user_id", userID, "screen", screen)
				return
			}
			releaseCtx, cancel := context.WithTimeout(detached, releaseTimeout)
			defer cancel()
			t.apply(releaseCtx, userID, restore)
		})
	}
	return release, nil
}

// drop removes the lease with token and reports the state to write, if
// any.
func (t *Tracker) drop(userID string, token uint64, parked State) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.leases[userID]
	idx := -1
	for i, l := range live {
		if l.token == token {
			idx = i
			break
		}
	}
	if idx < 0 {
		return State{}, false
	}
	newest := idx == len(live)-1
	live = append(live[:idx], live[idx+1:]...)
	if len(live) == 0 {
		delete(t.leases, userID)
	} else {
		t.leases[userID] = live
	}

	switch {
	case !newest:
		return State{}, false
	case len(live) > 0:
		return live[len(live)-1].state, true
	default:
		return parked, true
	}
}

// Current returns the last presence asserted for userID. Users this
// tracker has never seen are away.
func (t *Tracker) Current(userID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[userID]; ok {
		return st
	}
	return State{Screen: models.ScreenAway}
}

// IsViewing reports whether userID is actively on the chat screen of
// conversationID.
func (t *Tracker) IsViewing(userID, conversationID string) bool {
	st := t.Current(userID)
	return st.Active && st.Screen == models.ScreenChat && st.ConversationID == conversationID
}

// Viewing is IsViewing extended to the stored user record, so presence
// held by another process sharing the store also counts.
func (t *Tracker) Viewing(ctx context.Context, userID, conversationID string) (bool, error) {
	if t.IsViewing(userID, conversationID) {
		return true, nil
	}
	if t.records == nil {
		return false, nil
	}
	user, err := t.records.Get(ctx, userID)
	if errors.Is(err, models.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsActive && user.CurrentScreen == models.ScreenChat &&
		user.CurrentChatID != nil && *user.CurrentChatID == conversationID, nil
}

func (t *Tracker) apply(ctx context.Context, userID string, next State) {
	t.mu.Lock()
	prev, known := t.states[userID]
	if known && prev == next {
		t.mu.Unlock()
		return
	}
	t.states[userID] = next
	t.mu.Unlock()

	var chatID any
	if next.ConversationID != "" {
		chatID = next.ConversationID
	}
	err := t.users.PatchUser(ctx, userID, map[string]any{
		"currentScreen": string(next.Screen),
		"currentChatId": chatID,
		"isActive":      next.Active,
	})
	if err != nil {
		observability.IncPresenceWriteFailure(string(next.Screen))
		t.logger.Warn("presence write failed",
			"user_id", userID,
			"screen", next.Screen,
			"active", next.Active,
			"error", err,
		)
		return
	}
	t.logger.Debug("presence updated", "user_id", userID, "screen", next.Screen, "chat_id", next.ConversationID, "active", next.Active)
}

func entering(userID string, screen models.Screen, conversationID string) (State, error) {
	if userID == "" {
		return State{}, fmt.Errorf("%w: empty user id", models.ErrInvalidTransition)
	}
	if !screen.Valid() {
		return State{}, fmt.Errorf("%w: unknown screen %q", models.ErrInvalidTransition, screen)
	}
	if screen != models.ScreenChat {
		return State{Screen: screen, Active: true}, nil
	}
	if conversationID == "" {
		return State{}, fmt.Errorf("%w: chat screen needs a conversation id", models.ErrInvalidTransition)
	}
	return State{Screen: screen, ConversationID: conversationID, Active: true}, nil
}

func leaving(userID string, fallback models.Screen) (State, error) {
	if userID == "" {
		return State{}, fmt.Errorf("%w: empty user id", models.ErrInvalidTransition)
	}
	if fallback != models.ScreenHome && fallback != models.ScreenAway {
		return State{}, fmt.Errorf("%w: cannot fall back to %q", models.ErrInvalidTransition, fallback)
	}
	return State{Screen: fallback}, nil
}
