package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Memory is a process-local cache with a background sweeper
type Memory struct {
	mu     sync.RWMutex
	data   map[string]entry
	cfg    Config
	cancel context.CancelFunc
}

// NewMemory creates an in-memory cache and starts its sweeper
func NewMemory(cfg Config) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		data:   make(map[string]entry),
		cfg:    cfg,
		cancel: cancel,
	}
	go m.sweep(ctx, time.Minute)
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := m.cfg.Prefix + key

	m.mu.RLock()
	e, ok := m.data[full]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if e.expired(time.Now()) {
		m.mu.Lock()
		delete(m.data, full)
		m.mu.Unlock()
		return nil, ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.data[m.cfg.Prefix+key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, m.cfg.Prefix+key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	for k := range m.data {
		if strings.HasPrefix(k, m.cfg.Prefix) {
			delete(m.data, k)
		}
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of live entries
func (m *Memory) Len() int {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the sweeper
func (m *Memory) Close() error {
	m.cancel()
	return nil
}

func (m *Memory) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for k, e := range m.data {
				if e.expired(now) {
					delete(m.data, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
