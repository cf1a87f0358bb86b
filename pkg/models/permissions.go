package models

import (
	"fmt"
	"sort"
)

// Capability is a single permission an API key may hold.
type Capability string

const (
	CapabilitySubmit  Capability = "submit"
	CapabilityReport  Capability = "report"
	CapabilityRead    Capability = "read"
	CapabilityPublish Capability = "publish"
	CapabilityAdmin   Capability = "admin"
)

var knownCapabilities = map[Capability]bool{
	CapabilitySubmit:  true,
	CapabilityReport:  true,
	CapabilityRead:    true,
	CapabilityPublish: true,
	CapabilityAdmin:   true,
}

// Permissions is an immutable set of capabilities.
type Permissions struct {
	caps map[Capability]struct{}
}

// NewPermissions builds a set from the given capabilities.
func NewPermissions(caps ...Capability) Permissions {
	p := Permissions{caps: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		p.caps[c] = struct{}{}
	}
	return p
}

// ParsePermissions converts stored scopes into a capability set. Unknown
// scopes are ignored.
func ParsePermissions(scopes []string) Permissions {
	caps := make([]Capability, 0, len(scopes))
	for _, s := range scopes {
		if knownCapabilities[Capability(s)] {
			caps = append(caps, Capability(s))
		}
	}
	return NewPermissions(caps...)
}

// ValidateScopes rejects scopes that name no known capability.
func ValidateScopes(scopes []string) error {
	for _, s := range scopes {
		if !knownCapabilities[Capability(s)] {
			return fmt.Errorf("unknown scope %q", s)
		}
	}
	return nil
}

// Has reports whether the set grants c. Admin implies every capability.
func (p Permissions) Has(c Capability) bool {
	if _, ok := p.caps[CapabilityAdmin]; ok {
		return true
	}
	_, ok := p.caps[c]
	return ok
}

// With returns a copy of the set with c added.
func (p Permissions) With(c Capability) Permissions {
	next := NewPermissions(p.List()...)
	next.caps[c] = struct{}{}
	return next
}

// Without returns a copy of the set with c removed.
func (p Permissions) Without(c Capability) Permissions {
	next := NewPermissions(p.List()...)
	delete(next.caps, c)
	return next
}

// List returns the capabilities sorted by name.
func (p Permissions) List() []Capability {
	out := make([]Capability, 0, len(p.caps))
	for c := range p.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Scopes returns the set as stored scope strings.
func (p Permissions) Scopes() []string {
	list := p.List()
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = string(c)
	}
	return out
}
