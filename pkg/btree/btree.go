package btree

import (
	"sync"

	"github.com/bobboyms/transactional-kv/pkg/types"
)

// BPlusTree é uma árvore B+ em memória sobre chaves e valores de bytes
// opacos, ordenada por um comparador fornecido pela aplicação.
// Escritas usam latch crabbing com split preventivo na descida.
type BPlusTree struct {
	T    int
	Root *Node
	cmp  types.Compare
	mu   sync.RWMutex // Protege o ponteiro Root e operações estruturais
}

// NewTree cria uma árvore com grau mínimo t.
func NewTree(t int, cmp types.Compare) *BPlusTree {
	if cmp == nil {
		cmp = types.DefaultCompare
	}
	return &BPlusTree{
		T:    t,
		Root: NewNode(t, true, cmp),
		cmp:  cmp,
	}
}

// Comparator devolve o comparador com que a árvore foi criada.
func (b *BPlusTree) Comparator() types.Compare {
	return b.cmp
}

// Set grava o valor da chave, substituindo qualquer valor anterior.
func (b *BPlusTree) Set(key, value []byte) error {
	return b.Upsert(key, func(oldValue []byte, exists bool) ([]byte, error) {
		return value, nil
	})
}

// Upsert executa fn sobre o valor corrente (se existir) e grava o valor
// retornado. O callback roda segurando o latch da folha, permitindo
// read-modify-write atômico.
func (b *BPlusTree) Upsert(key []byte, fn func(oldValue []byte, exists bool) (newValue []byte, err error)) error {
	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false, b.cmp)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		b.mu.Unlock()

		newRoot.Lock()
		root.Unlock()

		return b.upsertTopDown(newRoot, key, fn)
	}

	b.mu.Unlock()
	return b.upsertTopDown(root, key, fn)
}

// upsertTopDown desce a árvore dividindo nós cheios preventivamente.
// Assume que 'curr' já está lockado pelo chamador.
func (b *BPlusTree) upsertTopDown(curr *Node, key []byte, fn func(oldValue []byte, exists bool) (newValue []byte, err error)) error {
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := 0
		for i < curr.N && b.cmp(key, curr.Keys[i]) >= 0 {
			i++
		}

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			// Split preventivo
			curr.SplitChild(i)

			if b.cmp(key, curr.Keys[i]) >= 0 {
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		// Latch Crabbing: solta o pai, mantém o filho
		curr.Unlock()
		curr = child
	}

	// Folha lockada e, pelo split preventivo, garantidamente não cheia.
	return curr.UpsertNonFull(key, fn)
}

// Get retorna o valor associado à chave (RLock coupling na descida).
func (b *BPlusTree) Get(key []byte) ([]byte, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	curr := b.Root
	if curr == nil {
		b.mu.RUnlock()
		return nil, false
	}
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && b.cmp(key, curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if b.cmp(key, curr.Keys[j]) == 0 {
			return curr.Values[j], true
		}
	}
	return nil, false
}

// Remove apaga a chave da árvore. Retorna false se a chave não existia.
// Exige exclusão externa em relação a leitores e escritores concorrentes;
// o rebalanceamento atravessa vários nós sem latch coupling.
func (b *BPlusTree) Remove(key []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := b.Root
	ok := root.remove(key)

	// Colapsa a raiz se ela ficou vazia após merges
	if !root.Leaf && root.N == 0 {
		b.Root = root.Children[0]
	}
	return ok
}

// FindLeafLowerBound busca a folha da primeira chave >= key (key nil
// posiciona no início da árvore). Retorna o nó com RLock adquirido; O
// CHAMADOR DEVE CHAMAR RUnlock() NO NÓ RETORNADO.
func (b *BPlusTree) FindLeafLowerBound(key []byte) (*Node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := curr.lowerBoundIndex(key)
		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	return curr, curr.lowerBoundIndex(key)
}

func (n *Node) lowerBoundIndex(key []byte) int {
	if key == nil {
		return 0
	}
	i := 0
	for i < n.N && n.cmp(n.Keys[i], key) < 0 {
		i++
	}
	return i
}
