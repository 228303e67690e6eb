package cache

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
)

// MemoryStore keeps artifacts in memory. With a positive capacity it evicts
// the least recently used artifact once full.
type MemoryStore struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value []byte
	prev  *entry
	next  *entry
}

// NewMemoryStore creates an empty store. maxEntries <= 0 means unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (s *MemoryStore) Locate(k Key) string { return "mem://" + k.String() }

func (s *MemoryStore) Exists(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[k.String()]
	return ok
}

func (s *MemoryStore) Open(k Key) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k.String()]
	if !ok {
		return nil, domain.IOError("open "+string(k.Tier)+" artifact", errors.New("not found: "+k.String()))
	}
	s.moveToFront(e)
	return io.NopCloser(bytes.NewReader(e.value)), nil
}

// Put buffers the whole artifact before storing it.
func (s *MemoryStore) Put(k Key, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := k.String()
	if e, ok := s.entries[key]; ok {
		e.value = buf.Bytes()
		s.moveToFront(e)
		return nil
	}

	e := &entry{key: key, value: buf.Bytes()}
	s.entries[key] = e
	s.addToFront(e)

	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.evictTail()
	}
	return nil
}

func (s *MemoryStore) Remove(k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[k.String()]; ok {
		delete(s.entries, e.key)
		s.unlink(e)
	}
	return nil
}

// Len returns the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) moveToFront(e *entry) {
	if e == s.head {
		return
	}
	s.unlink(e)
	s.addToFront(e)
}

func (s *MemoryStore) addToFront(e *entry) {
	e.next = s.head
	e.prev = nil
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *MemoryStore) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
}

func (s *MemoryStore) evictTail() {
	if s.tail == nil {
		return
	}
	delete(s.entries, s.tail.key)
	s.unlink(s.tail)
}
