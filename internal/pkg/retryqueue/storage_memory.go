package retryqueue

import (
	"sort"
	"sync"
)

// MemoryStorage 进程内存储，重启即丢失
type MemoryStorage struct {
	mu    sync.Mutex
	seq   uint64
	items map[uint64]*Item
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[uint64]*Item)}
}

func (s *MemoryStorage) Append(item *Item) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	item.ID = s.seq
	cp := *item
	s.items[item.ID] = &cp
	return item.ID, nil
}

func (s *MemoryStorage) List() ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*Item, 0, len(s.items))
	for _, it := range s.items {
		cp := *it
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStorage) Update(item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return ErrItemNotFound
	}
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryStorage) Delete(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *MemoryStorage) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

func (s *MemoryStorage) Close() error { return nil }
