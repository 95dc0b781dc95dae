package target

import (
	"fmt"
	"sort"
)

// Constructor builds a target.
type Constructor func() (*Target, error)

// Registry holds the targets a driver can compile for. It is filled by
// NewRegistry and read-only afterwards.
type Registry struct {
	targets map[string]*Target
}

// NewRegistry builds every target.
func NewRegistry(ctors ...Constructor) (*Registry, error) {
	r := &Registry{targets: map[string]*Target{}}
	for _, ctor := range ctors {
		t, err := ctor()
		if err != nil {
			return nil, err
		}
		if _, ok := r.targets[t.Name()]; ok {
			return nil, fmt.Errorf("duplicate target %s", t.Name())
		}
		r.targets[t.Name()] = t
	}
	return r, nil
}

// Lookup returns the named target.
func (r *Registry) Lookup(name string) (*Target, error) {
	t, ok := r.targets[name]
	if !ok {
		return nil, fmt.Errorf("unknown target %q (have %v)", name, r.Names())
	}
	return t, nil
}

// Names returns the target names, sorted.
func (r *Registry) Names() []string {
	ret := make([]string, 0, len(r.targets))
	for n := range r.targets {
		ret = append(ret, n)
	}
	sort.Strings(ret)
	return ret
}
