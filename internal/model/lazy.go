package model

import (
	"sync"
	"sync/atomic"
)

// Lazy is a fetch-once value: it is either unfetched or fetched with a value.
// The fetch function runs at most once, on the first Get.
type Lazy[T any] struct {
	once    sync.Once
	fetch   func() T
	value   T
	fetched atomic.Bool
}

// NewLazy returns an unfetched value backed by fetch
func NewLazy[T any](fetch func() T) *Lazy[T] {
	return &Lazy[T]{fetch: fetch}
}

// Get fetches on first use and returns the cached value afterwards
func (l *Lazy[T]) Get() T {
	l.once.Do(func() {
		l.value = l.fetch()
		l.fetch = nil
		l.fetched.Store(true)
	})
	return l.value
}

// Fetched reports whether Get has already run the fetch
func (l *Lazy[T]) Fetched() bool {
	return l.fetched.Load()
}
