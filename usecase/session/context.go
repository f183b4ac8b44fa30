package session

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/desain-gratis/realtime/repository/principal"
)

// Context is the authorization context of one connection. Guests are anonymous and
// never change; authenticated contexts re-read their status through Update.
type Context struct {
	userID string
	locale string
	repo   principal.Repository

	mu     sync.RWMutex
	status principal.Status
}

func Guest(locale string) *Context {
	return &Context{locale: locale}
}

// User builds an authenticated context. Call Update to load its status.
func User(repo principal.Repository, userID, locale string) *Context {
	return &Context{
		userID: userID,
		locale: locale,
		repo:   repo,
	}
}

func (c *Context) IsAuthenticated() bool {
	return c.userID != ""
}

func (c *Context) UserID() string {
	return c.userID
}

func (c *Context) Locale() string {
	return c.locale
}

func (c *Context) IsRoot() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status.Root
}

// Permissions returns the enabled permissions.
func (c *Context) Permissions() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]bool, len(c.status.Permissions))
	for name, enabled := range c.status.Permissions {
		if enabled {
			result[name] = true
		}
	}
	return result
}

// Active is false once the user is deleted or disabled. Guests are always active.
func (c *Context) Active() bool {
	if !c.IsAuthenticated() {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status.Active()
}

// Update reloads the status. A user that no longer exists becomes inactive.
func (c *Context) Update(ctx context.Context) error {
	if !c.IsAuthenticated() {
		return nil
	}

	status, err := c.repo.Get(ctx, c.userID)
	if errors.Is(err, principal.ErrNotFound) {
		status = principal.Status{UserID: c.userID, Deleted: true}
	} else if err != nil {
		return err
	}

	status.Permissions = maps.Clone(status.Permissions)

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	return nil
}
