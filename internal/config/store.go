package config

import "sync/atomic"

// Store holds the current configuration snapshot. Readers always observe a
// complete Config; Reload swaps in a freshly loaded value and never mutates
// the one in use.
type Store struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewStore wraps an already loaded Config. path is reused by Reload.
func NewStore(cfg *Config, path string) *Store {
	s := &Store{path: path}
	s.cur.Store(cfg)
	return s
}

// Open loads the configuration and wraps it in a Store.
func Open(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(cfg, path), nil
}

// Current returns the active snapshot. Callers must not modify it.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Reload re-reads file and environment. On error the previous snapshot
// stays active.
func (s *Store) Reload() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.cur.Store(cfg)
	return cfg, nil
}
