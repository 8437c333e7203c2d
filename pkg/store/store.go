package store

import (
	"github.com/bobboyms/transactional-kv/pkg/types"
)

// Store is the narrow interface the transactional layer consumes from the
// underlying ordered key-value engine. Point operations are atomic per
// key; values are opaque bytes (the transactional layer prepends its own
// timestamp header before anything reaches a Store).
type Store interface {
	// Lookup performs an atomic point lookup. found=false is not an error.
	Lookup(key []byte) (value []byte, found bool, err error)

	// Insert is a blind put: it fully replaces any prior value.
	Insert(key, value []byte) error

	// Update applies a merge-style update: the configured merge function
	// combines the delta with whatever value currently exists.
	Update(key, delta []byte) error

	// Delete removes the key entirely.
	Delete(key []byte) error

	// Scan returns an iterator over [start, end) in comparator order.
	// nil bounds are open. Key/Value slices are only valid until the next
	// call on the iterator.
	Scan(start, end []byte) (Iterator, error)

	// RegisterThread / DeregisterThread bracket participation of an OS
	// thread. Engines without thread-local scratch treat them as no-ops.
	RegisterThread()
	DeregisterThread()

	Close() error
}

// Iterator is a finite lazy sequence of (key, value) pairs.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Close() error
}

// Config configura o store subjacente.
type Config struct {
	// Dir é o diretório de dados (ignorado com InMemory).
	Dir string

	// InMemory seleciona o engine em memória (B+tree) em vez do pebble.
	InMemory bool

	// Compare ordena as chaves. nil = ordem de bytes.
	Compare types.Compare

	// Merge combina um delta de update com o valor existente. nil =
	// delta substitui o valor.
	Merge types.Merge

	// SyncWrites força fsync por escrita (apenas pebble).
	SyncWrites bool

	// CacheSize em bytes para o block cache do pebble. 0 usa o default.
	CacheSize int64
}

// DefaultConfig retorna uma configuração durável com ordenação e merge
// padrão.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:     dir,
		Compare: types.DefaultCompare,
		Merge:   types.DefaultMerge,
	}
}

func (c *Config) compare() types.Compare {
	if c.Compare == nil {
		return types.DefaultCompare
	}
	return c.Compare
}

func (c *Config) merge() types.Merge {
	if c.Merge == nil {
		return types.DefaultMerge
	}
	return c.Merge
}

// Open cria ou abre o store configurado.
func Open(cfg Config) (Store, error) {
	if cfg.InMemory {
		return openMem(cfg), nil
	}
	return openPebble(cfg)
}
