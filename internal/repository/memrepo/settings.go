package memrepo

import (
	"Parley/internal/repository"
	"context"
	"sync"
)

// Settings 内存版 SettingsRepo
type Settings struct {
	mu      sync.RWMutex
	receipt map[string]bool
	Err     error
	reads   int
}

func NewSettings() *Settings {
	return &Settings{receipt: make(map[string]bool)}
}

var _ repository.SettingsRepo = (*Settings)(nil)

func (s *Settings) ReadReceiptsEnabled(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.Err != nil {
		return false, s.Err
	}
	enabled, ok := s.receipt[userID]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

func (s *Settings) SetReadReceipts(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.receipt[userID] = enabled
	return nil
}

// Reads 查询次数，缓存测试用
func (s *Settings) Reads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads
}
