// Package history records which companion sessions a user attended.
package history

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidCompanion is returned when an entry has no companion ID.
	ErrInvalidCompanion = errors.New("history: companion id is required")
	// ErrInvalidUser is returned when an entry has no user ID.
	ErrInvalidUser = errors.New("history: user id is required")
)

// Entry is one attended session.
type Entry struct {
	ID          string
	UserID      string
	CompanionID string
	CreatedAt   time.Time
}

// Store persists session history.
type Store interface {
	Add(ctx context.Context, userID, companionID string) error
	Ping(ctx context.Context) error
	Close()
}

func validate(userID, companionID string) error {
	if strings.TrimSpace(companionID) == "" {
		return ErrInvalidCompanion
	}
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	return nil
}
