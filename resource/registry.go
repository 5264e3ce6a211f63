package resource

import (
	"slices"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry maps resource identifiers to handler factories.
//
// It is safe for concurrent use, so a registry may be populated while a
// device is already running.
type Registry struct {
	factories *xsync.MapOf[ID, Factory]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: xsync.NewMapOf[ID, Factory]()}
}

// Register binds a factory to a resource identifier, replacing any previous binding.
// A nil factory removes the binding.
func (r *Registry) Register(id ID, f Factory) {
	if f == nil {
		r.factories.Delete(id)
		return
	}

	r.factories.Store(id, f)
}

// Lookup finds the factory serving id.
//
// An exact match wins. Otherwise a registration with the same class and
// type and a version not lower than the requested one is accepted, as
// the host may implement a newer version of a resource (EN 50221 §8.2.2).
// The returned ID is the registered identifier.
func (r *Registry) Lookup(id ID) (ID, Factory, bool) {
	if f, ok := r.factories.Load(id); ok {
		return id, f, true
	}

	if id.Private() {
		return 0, nil, false
	}

	var (
		found   ID
		factory Factory
	)
	r.factories.Range(func(reg ID, f Factory) bool {
		if reg.Private() || reg.Base() != id.Base() || reg.Version() < id.Version() {
			return true
		}
		if factory == nil || reg.Version() < found.Version() {
			found, factory = reg, f
		}

		return true
	})

	return found, factory, factory != nil
}

// IDs returns the registered identifiers in ascending order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, r.factories.Size())
	r.factories.Range(func(id ID, _ Factory) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)

	return ids
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	return r.factories.Size()
}
