package pool

import "sync"

// SlicePool is a LIFO free list. Unlike sync.Pool it never drops items on GC,
// which keeps payload buffers warm across frames.
type SlicePool[T any] struct {
	mu    sync.Mutex
	s     []T
	newFn func() T
}

func NewSlicePool[T any](newFn func() T) *SlicePool[T] {
	return &SlicePool[T]{newFn: newFn}
}

func NewSlicePoolSize[T any](size int, newFn func() T) *SlicePool[T] {
	return &SlicePool[T]{s: make([]T, 0, size), newFn: newFn}
}

// Acquire pops a released item. If the pool is empty it returns a new item when
// the pool has a constructor, and ok == false otherwise.
func (p *SlicePool[T]) Acquire() (v T, ok bool) {
	p.mu.Lock()
	l := len(p.s)
	if l > 0 {
		v = p.s[l-1]
		p.s = p.s[:l-1]
		p.mu.Unlock()
		return v, true
	}
	p.mu.Unlock()

	if p.newFn == nil {
		return v, false
	}
	return p.newFn(), true
}

func (p *SlicePool[T]) Release(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.s = append(p.s, v)
}

func (p *SlicePool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.s)
}
