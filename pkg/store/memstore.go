package store

import (
	"sync"

	"github.com/bobboyms/transactional-kv/pkg/btree"
	kverrors "github.com/bobboyms/transactional-kv/pkg/errors"
	"github.com/bobboyms/transactional-kv/pkg/types"
)

// memStore é o engine em memória: uma B+tree sobre bytes. Usado em
// testes e em cargas efêmeras. O RWMutex do store serializa escritas
// contra o rebalanceamento estrutural da árvore; leituras correm em
// paralelo entre si.
type memStore struct {
	mu     sync.RWMutex
	tree   *btree.BPlusTree
	merge  types.Merge
	closed bool
}

const memTreeDegree = 16

func openMem(cfg Config) *memStore {
	return &memStore{
		tree:  btree.NewTree(memTreeDegree, cfg.compare()),
		merge: cfg.merge(),
	}
}

func (s *memStore) Lookup(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, &kverrors.StoreClosedError{}
	}

	v, ok := s.tree.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memStore) Insert(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &kverrors.StoreClosedError{}
	}

	return s.tree.Set(append([]byte(nil), key...), append([]byte(nil), value...))
}

func (s *memStore) Update(key, delta []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &kverrors.StoreClosedError{}
	}

	// Upsert roda o merge segurando o latch da folha: read-modify-write
	// atômico por chave.
	d := append([]byte(nil), delta...)
	return s.tree.Upsert(append([]byte(nil), key...), func(old []byte, exists bool) ([]byte, error) {
		if !exists {
			return d, nil
		}
		return s.merge(key, old, d), nil
	})
}

func (s *memStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &kverrors.StoreClosedError{}
	}

	s.tree.Remove(key)
	return nil
}

// Scan retorna um iterador sobre [start, end). O iterador segura o
// read lock do store até Close: escritas ficam bloqueadas durante o
// scan.
func (s *memStore) Scan(start, end []byte) (Iterator, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, &kverrors.StoreClosedError{}
	}

	cur := s.tree.NewCursor()
	cur.Seek(start)
	it := &memIterator{store: s, cur: cur, end: end, cmp: s.tree.Comparator()}
	it.checkBound()
	return it, nil
}

func (s *memStore) RegisterThread()   {}
func (s *memStore) DeregisterThread() {}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &kverrors.StoreClosedError{}
	}
	s.closed = true
	return nil
}

type memIterator struct {
	store  *memStore
	cur    *btree.Cursor
	end    []byte
	cmp    types.Compare
	done   bool
	closed bool
}

func (it *memIterator) checkBound() {
	if it.cur.Valid() && it.end != nil && it.cmp(it.cur.Key(), it.end) >= 0 {
		it.done = true
	}
}

func (it *memIterator) Valid() bool {
	return !it.done && it.cur.Valid()
}

func (it *memIterator) Key() []byte   { return it.cur.Key() }
func (it *memIterator) Value() []byte { return it.cur.Value() }

func (it *memIterator) Next() {
	it.cur.Next()
	it.checkBound()
}

func (it *memIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.cur.Close()
	it.store.mu.RUnlock()
	return nil
}
