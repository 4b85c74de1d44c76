package persona

import "strings"

// Store exposes persona retrieval.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// Registry is a read-only persona catalog keyed by normalized ID.
// Registration order is preserved for listing.
type Registry struct {
	order []string
	byID  map[string]Persona
}

// NewRegistry indexes items. Entries with a blank ID are dropped and a
// repeated ID replaces the earlier entry without changing its position.
func NewRegistry(items []Persona) *Registry {
	r := &Registry{byID: make(map[string]Persona, len(items))}
	for _, p := range items {
		key := normalizeID(p.ID)
		if key == "" {
			continue
		}
		if _, seen := r.byID[key]; !seen {
			r.order = append(r.order, key)
		}
		r.byID[key] = p
	}
	return r
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// List returns the personas in registration order.
func (r *Registry) List() []Persona {
	out := make([]Persona, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byID[key])
	}
	return out
}

// FindByID matches ignoring case and surrounding whitespace.
func (r *Registry) FindByID(id string) (Persona, bool) {
	p, ok := r.byID[normalizeID(id)]
	return p, ok
}
