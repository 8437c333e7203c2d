package store

import (
	"errors"
	"io"

	"github.com/cockroachdb/pebble"

	kverrors "github.com/bobboyms/transactional-kv/pkg/errors"
	"github.com/bobboyms/transactional-kv/pkg/types"
)

// pebbleStore é o engine durável: um LSM embutido (cockroachdb/pebble)
// com o comparador e o merge da aplicação instalados na abertura.
type pebbleStore struct {
	db *pebble.DB
	wo *pebble.WriteOptions
}

func openPebble(cfg Config) (*pebbleStore, error) {
	opts := &pebble.Options{
		Merger: newMerger(cfg.merge()),
	}
	if cfg.Compare != nil {
		opts.Comparer = newComparer(cfg.Compare)
	}
	if cfg.CacheSize > 0 {
		cache := pebble.NewCache(cfg.CacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}

	db, err := pebble.Open(cfg.Dir, opts)
	if err != nil {
		return nil, err
	}

	wo := pebble.NoSync
	if cfg.SyncWrites {
		wo = pebble.Sync
	}
	return &pebbleStore{db: db, wo: wo}, nil
}

func (s *pebbleStore) Lookup(key []byte) ([]byte, bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	// O slice retornado pelo pebble só é válido até closer.Close().
	out := append([]byte(nil), value...)
	if cerr := closer.Close(); cerr != nil {
		return nil, false, cerr
	}
	return out, true, nil
}

func (s *pebbleStore) Insert(key, value []byte) error {
	return s.db.Set(key, value, s.wo)
}

func (s *pebbleStore) Update(key, delta []byte) error {
	return s.db.Merge(key, delta, s.wo)
}

func (s *pebbleStore) Delete(key []byte) error {
	return s.db.Delete(key, s.wo)
}

func (s *pebbleStore) Scan(start, end []byte) (Iterator, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: end,
	})
	if err != nil {
		return nil, err
	}
	iter.First()
	return &pebbleIterator{iter: iter}, nil
}

// Pebble não mantém scratch por thread; os hooks existem para cumprir o
// contrato do Store.
func (s *pebbleStore) RegisterThread()   {}
func (s *pebbleStore) DeregisterThread() {}

func (s *pebbleStore) Close() error {
	if s.db == nil {
		return &kverrors.StoreClosedError{}
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type pebbleIterator struct {
	iter *pebble.Iterator
}

func (it *pebbleIterator) Valid() bool   { return it.iter.Valid() }
func (it *pebbleIterator) Key() []byte   { return it.iter.Key() }
func (it *pebbleIterator) Value() []byte { return it.iter.Value() }
func (it *pebbleIterator) Next()         { it.iter.Next() }
func (it *pebbleIterator) Close() error  { return it.iter.Close() }

// newComparer adapta o comparador da aplicação para o contrato do
// pebble. Separator/Successor devolvem a própria chave, o que é sempre
// válido (apenas subótimo para o tamanho dos index blocks).
func newComparer(cmp types.Compare) *pebble.Comparer {
	return &pebble.Comparer{
		Name:      "transactional-kv.comparer",
		Compare:   pebble.Compare(cmp),
		FormatKey: pebble.DefaultComparer.FormatKey,
		Equal: func(a, b []byte) bool {
			return cmp(a, b) == 0
		},
		AbbreviatedKey: func(key []byte) uint64 {
			// Sem prefixo numérico consistente com um comparador
			// arbitrário; 0 constante é sempre correto.
			return 0
		},
		Separator: func(dst, a, b []byte) []byte {
			return append(dst, a...)
		},
		Successor: func(dst, a []byte) []byte {
			return append(dst, a...)
		},
	}
}

// newMerger adapta a função de merge da aplicação. O pebble entrega os
// operandos fora de ordem (MergeNewer/MergeOlder); acumulamos e dobramos
// do mais antigo para o mais novo no Finish.
func newMerger(merge types.Merge) *pebble.Merger {
	return &pebble.Merger{
		Name: "transactional-kv.merger",
		Merge: func(key, value []byte) (pebble.ValueMerger, error) {
			m := &valueMerger{
				merge: merge,
				key:   append([]byte(nil), key...),
			}
			m.operands = append(m.operands, append([]byte(nil), value...))
			return m, nil
		},
	}
}

type valueMerger struct {
	merge    types.Merge
	key      []byte
	operands [][]byte // do mais antigo para o mais novo
}

func (m *valueMerger) MergeNewer(value []byte) error {
	m.operands = append(m.operands, append([]byte(nil), value...))
	return nil
}

func (m *valueMerger) MergeOlder(value []byte) error {
	m.operands = append([][]byte{append([]byte(nil), value...)}, m.operands...)
	return nil
}

func (m *valueMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	acc := m.operands[0]
	for _, op := range m.operands[1:] {
		acc = m.merge(m.key, acc, op)
	}
	return acc, nil, nil
}
