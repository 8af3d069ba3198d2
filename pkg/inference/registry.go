package inference

import "strings"

// Registry maps model-family keys to session factories. Resolution tries,
// in order: the exact family key, a heuristic substring match against the
// model id and path, then the "default" family if registered. It is a
// plain value built by the caller (typically once, at startup) — there is
// no package-level global and no construction-time side effects.
type Registry struct {
	factories map[string]Factory
	order     []string // registration order, for deterministic substring scan
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a family key with a factory. A later call with the
// same key replaces the earlier one.
func (r *Registry) Register(family string, f Factory) {
	if _, exists := r.factories[family]; !exists {
		r.order = append(r.order, family)
	}
	r.factories[family] = f
}

// Resolve builds a ModelSession for desc, trying the exact family first
// (desc.Task as string is not itself a family; callers pass the intended
// family explicitly via family, e.g. "yolo", "detr", "default").
func (r *Registry) Resolve(family string, desc ModelDesc) (ModelSession, bool) {
	if f, ok := r.factories[family]; ok {
		if sess, ok := f(desc); ok {
			return sess, true
		}
	}

	needle := strings.ToLower(desc.ID + " " + desc.Path)
	for _, fam := range r.order {
		if fam == family || fam == "default" {
			continue
		}
		if strings.Contains(needle, strings.ToLower(fam)) {
			if sess, ok := r.factories[fam](desc); ok {
				return sess, true
			}
		}
	}

	if f, ok := r.factories["default"]; ok {
		return f(desc)
	}
	return nil, false
}
