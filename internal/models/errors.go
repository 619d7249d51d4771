package models

import (
	"errors"

	"chat-sync/internal/tree"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrMessageNotFound    = errors.New("message not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidParticipant = errors.New("invalid participant id")
	ErrInvalidTransition  = errors.New("invalid presence transition")
	ErrIdentityConflict   = errors.New("identity conflict")

	// ErrStoreUnavailable marks any failure reaching the backing store.
	ErrStoreUnavailable = tree.ErrUnavailable
	// ErrInvalidPath marks an id that cannot be used as a store key.
	ErrInvalidPath = tree.ErrInvalidPath
)
