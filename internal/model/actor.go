package model

import "strings"

// AnonymousScope is the scope of an actor that carries neither a user id nor
// an anonymous id.
const AnonymousScope = "__anonymous__"

// Actor identifies the caller of an ingest or replay operation.
// Every row is stamped with the actor's Scope and every lookup filters by it.
type Actor struct {
	UserID      string `json:"userId,omitempty" yaml:"userId,omitempty"`
	AnonymousID string `json:"anonymousId,omitempty" yaml:"anonymousId,omitempty"`
}

// Scope returns the authorization boundary derived from the actor identity.
func (a Actor) Scope() string {
	if id := strings.TrimSpace(a.UserID); id != "" {
		return id
	}
	if id := strings.TrimSpace(a.AnonymousID); id != "" {
		return "anon:" + id
	}
	return AnonymousScope
}
