// Package identity reads and writes user records under users/.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"chat-sync/internal/latest"
	"chat-sync/internal/models"
	"chat-sync/internal/tree"
)

const root = "users"

// Store is the identity accessor over the tree.
type Store struct {
	tree   tree.Store
	logger *slog.Logger
}

func NewStore(t tree.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{tree: t, logger: logger}
}

func path(id string) string {
	return tree.Join(root, id)
}

// Get returns the user with id, or ErrUserNotFound.
func (s *Store) Get(ctx context.Context, id string) (models.User, error) {
	if id == "" {
		return models.User{}, fmt.Errorf("%w: empty user id", models.ErrValidation)
	}
	snap, err := s.tree.Read(ctx, path(id))
	if err != nil {
		return models.User{}, err
	}
	if !snap.Exists {
		return models.User{}, models.ErrUserNotFound
	}
	var user models.User
	if err := snap.Decode(&user); err != nil {
		return models.User{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	user.ID = id
	return user, nil
}

// List returns every user ordered by id.
func (s *Store) List(ctx context.Context) ([]models.User, error) {
	snap, err := s.tree.Read(ctx, root)
	if err != nil {
		return nil, err
	}
	return Users(snap.Value), nil
}

// Watch streams the full user list on every change under users/. The
// channel is closed when ctx is done. Read failures keep the last list.
func (s *Store) Watch(ctx context.Context) (<-chan []models.User, error) {
	out := make(chan []models.User, 1)
	cancel, err := s.tree.Subscribe(root, func(snap tree.Snapshot, err error) {
		if err != nil {
			s.logger.Warn("user list refresh failed", "error", err)
			return
		}
		latest.Send(out, Users(snap.Value))
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		cancel()
		close(out)
	}()
	return out, nil
}

// PatchUser merges fields into users/{id}.
func (s *Store) PatchUser(ctx context.Context, id string, fields map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: empty user id", models.ErrValidation)
	}
	return s.tree.Patch(ctx, path(id), fields)
}

// Login finds the user registered with both username and phone, or creates
// one when neither is taken. A username or phone already bound to a
// different record is an ErrIdentityConflict.
func (s *Store) Login(ctx context.Context, username, phone string) (models.User, error) {
	username = strings.TrimSpace(username)
	phone = strings.TrimSpace(phone)
	if username == "" || phone == "" {
		return models.User{}, fmt.Errorf("%w: username and phone are required", models.ErrValidation)
	}

	users, err := s.List(ctx)
	if err != nil {
		return models.User{}, err
	}

	var byName, byPhone *models.User
	for i := range users {
		if users[i].Username == username {
			byName = &users[i]
		}
		if users[i].Phone == phone {
			byPhone = &users[i]
		}
	}

	switch {
	case byName == nil && byPhone == nil:
		return s.register(ctx, username, phone)
	case byName != nil && byPhone != nil && byName.ID == byPhone.ID:
		return s.touch(ctx, *byName)
	default:
		s.logger.Info("login rejected", "username", username, "reason", "identity conflict")
		return models.User{}, models.ErrIdentityConflict
	}
}

func (s *Store) register(ctx context.Context, username, phone string) (models.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.User{}, fmt.Errorf("generate user id: %w", err)
	}
	record := map[string]any{
		"username":      username,
		"phone":         phone,
		"currentScreen": string(models.ScreenHome),
		"isActive":      true,
		"createdAt":     tree.ServerTimestamp,
		"lastLogin":     tree.ServerTimestamp,
	}
	if err := s.tree.Write(ctx, path(id.String()), record); err != nil {
		return models.User{}, err
	}
	s.logger.Info("user registered", "user_id", id.String())
	return s.Get(ctx, id.String())
}

func (s *Store) touch(ctx context.Context, user models.User) (models.User, error) {
	err := s.tree.Patch(ctx, path(user.ID), map[string]any{
		"isActive":      true,
		"currentScreen": string(models.ScreenHome),
		"currentChatId": nil,
		"lastLogin":     tree.ServerTimestamp,
	})
	if err != nil {
		return models.User{}, err
	}
	return s.Get(ctx, user.ID)
}

// Users decodes the value of users/ into a slice ordered by id. Malformed
// records are skipped.
func Users(value any) []models.User {
	children, ok := value.(map[string]any)
	if !ok {
		return []models.User{}
	}
	users := make([]models.User, 0, len(children))
	for id, child := range children {
		if _, ok := child.(map[string]any); !ok {
			continue
		}
		var user models.User
		if err := tree.Decode(child, &user); err != nil {
			continue
		}
		user.ID = id
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}
