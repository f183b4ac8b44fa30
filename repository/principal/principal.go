package principal

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("principal not found")
)

// Status is the mutable part of a user's identity, re-read while a connection lives.
type Status struct {
	UserID      string          `json:"user_id"`
	Root        bool            `json:"root"`
	Enabled     bool            `json:"enabled"`
	Deleted     bool            `json:"deleted"`
	Permissions map[string]bool `json:"permissions"`
}

// Active is false for deleted or disabled users.
func (s Status) Active() bool {
	return s.Enabled && !s.Deleted
}

type Repository interface {
	// Get returns ErrNotFound for unknown users.
	Get(ctx context.Context, userID string) (Status, error)
}
