package btree

import (
	"sort"
	"sync"

	"github.com/bobboyms/transactional-kv/pkg/types"
)

type Node struct {
	T        int          // Grau mínimo
	Keys     [][]byte     // Chaves (bytes opacos, ordenados por cmp)
	Values   [][]byte     // Valores (apenas em folhas)
	Children []*Node      // Filhos (apenas em nós internos)
	Leaf     bool         // Se é folha
	N        int          // Número de chaves atual
	Next     *Node        // Ponteiro para a próxima folha (lista ligada)
	cmp      types.Compare
	mu       sync.RWMutex // Latch para controle de concorrência granular
}

func NewNode(t int, leaf bool, cmp types.Compare) *Node {
	return &Node{
		T:        t,
		Leaf:     leaf,
		cmp:      cmp,
		Keys:     make([][]byte, 0, 2*t-1),
		Values:   make([][]byte, 0, 2*t-1),
		Children: make([]*Node, 0, 2*t),
	}
}

// Métodos auxiliares de Lock para o Node

func (n *Node) Lock() {
	if n != nil {
		n.mu.Lock()
	}
}

func (n *Node) Unlock() {
	if n != nil {
		n.mu.Unlock()
	}
}

func (n *Node) RLock() {
	if n != nil {
		n.mu.RLock()
	}
}

func (n *Node) RUnlock() {
	if n != nil {
		n.mu.RUnlock()
	}
}

func (n *Node) IsFull() bool {
	return n.N == 2*n.T-1
}

func (n *Node) findLeafLowerBound(key []byte) (*Node, int) {
	i := sort.Search(n.N, func(i int) bool {
		return n.cmp(n.Keys[i], key) >= 0
	})

	if n.Leaf {
		return n, i
	}

	return n.Children[i].findLeafLowerBound(key)
}

// UpsertNonFull realiza a inserção ou atualização na folha, executando o callback.
// Com split preventivo na descida, só é chamado em folhas não cheias.
func (n *Node) UpsertNonFull(key []byte, fn func(oldValue []byte, exists bool) (newValue []byte, err error)) error {
	idx := sort.Search(n.N, func(j int) bool {
		return n.cmp(n.Keys[j], key) >= 0
	})

	// Se a chave já existe
	if idx < n.N && n.cmp(n.Keys[idx], key) == 0 {
		newValue, err := fn(n.Values[idx], true)
		if err != nil {
			return err
		}
		n.Values[idx] = newValue
		return nil
	}

	newValue, err := fn(nil, false)
	if err != nil {
		return err
	}

	// Abre espaço para a nova chave
	n.Keys = append(n.Keys, nil)
	n.Values = append(n.Values, nil)
	copy(n.Keys[idx+1:], n.Keys[idx:])
	copy(n.Values[idx+1:], n.Values[idx:])

	n.Keys[idx] = key
	n.Values[idx] = newValue
	n.N++
	return nil
}

func (n *Node) SplitChild(i int) {
	t := n.T
	y := n.Children[i]
	z := NewNode(t, y.Leaf, n.cmp)

	// Se for folha, mantém a chave do meio na direita (propriedade B+ Tree)
	if y.Leaf {
		mid := t - 1
		z.N = y.N - mid
		z.Keys = append(z.Keys, y.Keys[mid:]...)
		z.Values = append(z.Values, y.Values[mid:]...)

		y.Keys = y.Keys[:mid]
		y.Values = y.Values[:mid]
		y.N = mid

		z.Next = y.Next
		y.Next = z
	} else {
		// Nó interno: chave do meio sobe e sai do filho
		mid := t - 1
		z.N = t - 1
		z.Keys = append(z.Keys, y.Keys[mid+1:]...)
		z.Children = append(z.Children, y.Children[mid+1:]...)

		upKey := y.Keys[mid]

		y.Keys = y.Keys[:mid]
		y.Children = y.Children[:mid+1]
		y.N = mid

		n.Keys = append(n.Keys, nil)
		copy(n.Keys[i+1:], n.Keys[i:])
		n.Keys[i] = upKey

		n.Children = append(n.Children, nil)
		copy(n.Children[i+2:], n.Children[i+1:])
		n.Children[i+1] = z
		n.N++
		return
	}

	// No caso de folha, a primeira chave do novo nó z sobe para o pai
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = z.Keys[0]

	n.Children = append(n.Children, nil)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = z
	n.N++
}

func (n *Node) remove(key []byte) bool {
	idx := sort.Search(n.N, func(i int) bool {
		return n.cmp(n.Keys[i], key) >= 0
	})

	if n.Leaf {
		if idx < n.N && n.cmp(n.Keys[idx], key) == 0 {
			n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
			n.Values = append(n.Values[:idx], n.Values[idx+1:]...)
			n.N--
			return true
		}
		return false
	}

	// Na B+ Tree o valor real está sempre na folha; separador igual à
	// chave indica a subárvore à direita.
	childIdx := idx
	if idx < n.N && n.cmp(n.Keys[idx], key) == 0 {
		childIdx = idx + 1
	}

	child := n.Children[childIdx]
	if child.N < n.T {
		n.fill(childIdx)
	}

	// Após rebalancear, a chave pode ter mudado de filho
	return n.removeRecursive(key)
}

func (n *Node) removeRecursive(key []byte) bool {
	idx := sort.Search(n.N, func(i int) bool {
		return n.cmp(n.Keys[i], key) >= 0
	})

	childIdx := idx
	if idx < n.N && n.cmp(n.Keys[idx], key) == 0 {
		childIdx = idx + 1
	}

	// Se o filho foi fundido, childIdx pode estar fora agora
	if childIdx > n.N {
		childIdx = n.N
	}

	ok := n.Children[childIdx].remove(key)

	if ok {
		n.fixSeparators()
	}

	return ok
}

func (n *Node) fixSeparators() {
	if n.Leaf {
		return
	}
	for i := 0; i < n.N; i++ {
		// O separador i é a menor chave da subárvore Children[i+1]
		curr := n.Children[i+1]
		for !curr.Leaf {
			curr = curr.Children[0]
		}
		if curr.N > 0 {
			n.Keys[i] = curr.Keys[0]
		}
	}
}

func (n *Node) fill(i int) {
	if i != 0 && n.Children[i-1].N >= n.T {
		n.borrowFromPrev(i)
	} else if i != n.N && n.Children[i+1].N >= n.T {
		n.borrowFromNext(i)
	} else {
		if i != n.N {
			n.merge(i)
		} else {
			n.merge(i - 1)
		}
	}
}

func (n *Node) borrowFromPrev(i int) {
	child := n.Children[i]
	sibling := n.Children[i-1]

	if child.Leaf {
		child.Keys = append([][]byte{nil}, child.Keys...)
		child.Values = append([][]byte{nil}, child.Values...)
		child.Keys[0] = sibling.Keys[sibling.N-1]
		child.Values[0] = sibling.Values[sibling.N-1]
		child.N++

		sibling.Keys = sibling.Keys[:sibling.N-1]
		sibling.Values = sibling.Values[:sibling.N-1]
		sibling.N--

		n.Keys[i-1] = child.Keys[0]
	} else {
		child.Keys = append([][]byte{nil}, child.Keys...)
		child.Children = append([]*Node{nil}, child.Children...)
		child.Keys[0] = n.Keys[i-1]
		child.Children[0] = sibling.Children[sibling.N]
		child.N++

		n.Keys[i-1] = sibling.Keys[sibling.N-1]
		sibling.Keys = sibling.Keys[:sibling.N-1]
		sibling.Children = sibling.Children[:sibling.N]
		sibling.N--
	}
}

func (n *Node) borrowFromNext(i int) {
	child := n.Children[i]
	sibling := n.Children[i+1]

	if child.Leaf {
		child.Keys = append(child.Keys, sibling.Keys[0])
		child.Values = append(child.Values, sibling.Values[0])
		child.N++

		sibling.Keys = append([][]byte{}, sibling.Keys[1:]...)
		sibling.Values = append([][]byte{}, sibling.Values[1:]...)
		sibling.N--

		n.Keys[i] = sibling.Keys[0]
	} else {
		child.Keys = append(child.Keys, n.Keys[i])
		child.Children = append(child.Children, sibling.Children[0])
		child.N++

		n.Keys[i] = sibling.Keys[0]
		sibling.Keys = append([][]byte{}, sibling.Keys[1:]...)
		sibling.Children = append([]*Node{}, sibling.Children[1:]...)
		sibling.N--
	}
}

func (n *Node) merge(i int) {
	child := n.Children[i]
	sibling := n.Children[i+1]

	if child.Leaf {
		child.Keys = append(child.Keys, sibling.Keys...)
		child.Values = append(child.Values, sibling.Values...)
		child.Next = sibling.Next
		child.N = len(child.Keys)
	} else {
		child.Keys = append(child.Keys, n.Keys[i])
		child.Keys = append(child.Keys, sibling.Keys...)
		child.Children = append(child.Children, sibling.Children...)
		child.N = len(child.Keys)
	}

	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	n.Children = append(n.Children[:i+1], n.Children[i+2:]...)
	n.N--
}
