package eventsapi

import (
	"context"
	"net/http"
)

// Principal is the authorization context a connection was opened with.
// Update re-reads the mutable part (deleted, disabled, permissions) and must be
// safe for concurrent use.
type Principal interface {
	IsAuthenticated() bool
	IsRoot() bool
	UserID() string
	Permissions() map[string]bool
	Active() bool
	Locale() string
	Update(ctx context.Context) error
}

// Authenticate resolves the principal of an upgrade request. It never fails;
// unknown callers are guests.
type Authenticate func(r *http.Request) Principal
