// Package registry is a concurrent name to value table.
package registry

import (
	"slices"

	"github.com/alphadose/haxmap"
)

type Registry[T any] interface {
	Get(name string) (T, bool)
	// Set stores value under name and reports whether it replaced an entry.
	Set(name string, value T) bool
	GetOrAdd(name string, value func() T) (T, bool)
	// Del removes name and reports whether it was present.
	Del(name string) bool
	// DelIf removes name only while its value satisfies match.
	DelIf(name string, match func(T) bool) bool
	Len() int
	Names() []string
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(name string) (T, bool) {
	return r.values.Get(name)
}

func (r *registry[T]) Set(name string, value T) bool {
	if _, loaded := r.values.GetOrSet(name, value); !loaded {
		return false
	}
	r.values.Set(name, value)
	return true
}

func (r *registry[T]) GetOrAdd(name string, valueFn func() T) (T, bool) {
	return r.values.GetOrCompute(name, valueFn)
}

func (r *registry[T]) Del(name string) bool {
	if _, ok := r.values.Get(name); !ok {
		return false
	}
	r.values.Del(name)
	return true
}

func (r *registry[T]) DelIf(name string, match func(T) bool) bool {
	v, ok := r.values.Get(name)
	if !ok || !match(v) {
		return false
	}
	r.values.Del(name)
	return true
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}

// Names returns the registered names in sorted order.
func (r *registry[T]) Names() []string {
	names := make([]string, 0, r.Len())
	r.values.ForEach(func(name string, _ T) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}
