package eventsapi

import (
	"sort"
	"strings"
)

const (
	ScopeAll    = "all"
	ScopeGuests = "guests"
	ScopeUsers  = "users"
	ScopeRoot   = "root"
)

// ChannelName is the hub event name publishers use to reach scope of name,
// e.g. ChannelName("orders", "42") for user 42.
func ChannelName(name, scope string) string {
	return name + "/" + scope
}

// Channels lists the hub event names a principal listens on for name.
// User ids and permissions that collide with a reserved scope are skipped,
// and each channel is listed once.
func Channels(p Principal, name string) []string {
	channels := []string{ChannelName(name, ScopeAll)}

	if !p.IsAuthenticated() {
		return append(channels, ChannelName(name, ScopeGuests))
	}

	channels = append(channels, ChannelName(name, ScopeUsers))

	seen := make(map[string]struct{})
	if id := p.UserID(); id != "" && !reserved(id) {
		seen[id] = struct{}{}
		channels = append(channels, ChannelName(name, id))
	}

	perms := make([]string, 0)
	for perm, enabled := range p.Permissions() {
		if _, dup := seen[perm]; !enabled || dup || reserved(perm) {
			continue
		}
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	for _, perm := range perms {
		channels = append(channels, ChannelName(name, perm))
	}

	if p.IsRoot() {
		channels = append(channels, ChannelName(name, ScopeRoot))
	}

	return channels
}

func reserved(scope string) bool {
	switch scope {
	case ScopeAll, ScopeGuests, ScopeUsers, ScopeRoot:
		return true
	}
	return false
}

// scopeOf returns the scope part of a channel of name.
func scopeOf(name, channel string) string {
	scope, _ := strings.CutPrefix(channel, name+"/")
	return scope
}

// immutable scopes never need the principal to be re-validated.
func immutable(scope string) bool {
	return scope == ScopeAll || scope == ScopeGuests
}
