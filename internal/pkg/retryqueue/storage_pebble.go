package retryqueue

import (
	"encoding/binary"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"
)

var (
	keyPrefix = []byte("rq/")
	keyUpper  = []byte("rq0") // '0' follows '/'
)

// PebbleStorage 基于本地 pebble 的持久化存储，key 为大端序入队序号
type PebbleStorage struct {
	db   *pebble.DB
	mu   sync.Mutex
	seq  uint64
	opts *pebble.WriteOptions
}

// OpenPebbleStorage 打开或创建 path 处的队列库，syncWrites 为 true 时每次写入都 fsync
func OpenPebbleStorage(path string, syncWrites bool) (*PebbleStorage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("retry queue pebble open failed", "path", path, "err", err)
		return nil, err
	}
	s := &PebbleStorage{db: db, opts: pebble.NoSync}
	if syncWrites {
		s.opts = pebble.Sync
	}

	// 恢复序号水位
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: keyUpper})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if iter.Last() {
		s.seq = decodeKey(iter.Key())
	}
	if err = iter.Close(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func encodeKey(id uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], id)
	return k
}

func decodeKey(k []byte) uint64 {
	if len(k) != len(keyPrefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(keyPrefix):])
}

func (s *PebbleStorage) Append(item *Item) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.seq + 1
	data, err := json.Marshal(item)
	if err != nil {
		return 0, err
	}
	if err = s.db.Set(encodeKey(item.ID), data, s.opts); err != nil {
		return 0, fmt.Errorf("retry queue append: %w", err)
	}
	s.seq = item.ID
	return item.ID, nil
}

func (s *PebbleStorage) List() ([]*Item, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: keyUpper})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = iter.Close()
	}()

	var items []*Item
	for iter.First(); iter.Valid(); iter.Next() {
		var it Item
		if err := json.Unmarshal(iter.Value(), &it); err != nil {
			log.Warn("retry queue: skipping undecodable item", "key", decodeKey(iter.Key()), "err", err)
			continue
		}
		items = append(items, &it)
	}
	return items, iter.Error()
}

func (s *PebbleStorage) Update(item *Item) error {
	key := encodeKey(item.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return ErrItemNotFound
		}
		return err
	}
	_ = closer.Close()

	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.db.Set(key, data, s.opts)
}

func (s *PebbleStorage) Delete(id uint64) error {
	return s.db.Delete(encodeKey(id), s.opts)
}

func (s *PebbleStorage) Len() (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: keyUpper})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = iter.Close()
	}()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

func (s *PebbleStorage) Close() error {
	return s.db.Close()
}
