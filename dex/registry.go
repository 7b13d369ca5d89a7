package dex

import "fmt"

// Registry dispatches quote requests to the provider implementing each venue
// kind. Dispatch is by the explicit kind tag carried on the venue descriptor,
// never by inspecting venue names.
type Registry struct {
	providers map[Kind]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[Kind]Provider)}
}

func (r *Registry) Register(kind Kind, p Provider) {
	r.providers[kind] = p
}

// Provider returns the provider registered for the venue kind. A missing
// registration is a configuration error at the call boundary that needed it.
func (r *Registry) Provider(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no quote provider registered for venue kind %s", kind)
	}
	return p, nil
}
