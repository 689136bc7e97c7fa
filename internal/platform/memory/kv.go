package memory

import (
	"context"
	"sync"
)

// KV is a map-backed key-value store. GetErr and SetErr inject failures.
type KV struct {
	mu     sync.Mutex
	data   map[string]string
	writes int

	GetErr error
	SetErr error
}

func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return "", false, s.GetErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *KV) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.data[key] = value
	s.writes++
	return nil
}

// Writes returns the number of successful Set calls.
func (s *KV) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Keys lists stored keys in no particular order.
func (s *KV) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}
