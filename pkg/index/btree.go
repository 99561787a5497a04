package index

import (
	"bytes"
	"sync"

	"github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/types"
)

// BPlusTree é o índice em memória do engine: chaves são Values da coluna
// indexada, postings são as chaves de linha no storage. Escrita usa split
// preventivo com latch crabbing; leitura usa RLock coupling.
type BPlusTree struct {
	T      int
	Root   *Node
	Unique bool         // Se true, não permite chaves duplicadas
	mu     sync.RWMutex // Protege o ponteiro Root e operações estruturais
}

const DefaultDegree = 32

// NewTree cria uma árvore normal (permite duplicatas)
func NewTree(t int) *BPlusTree {
	return &BPlusTree{
		T:    t,
		Root: NewNode(t, true),
	}
}

// NewUniqueTree cria um índice único (não permite duplicatas)
func NewUniqueTree(t int) *BPlusTree {
	return &BPlusTree{
		T:      t,
		Root:   NewNode(t, true),
		Unique: true,
	}
}

// Insert adiciona um posting para a chave.
// Em índice único, chave já existente retorna ConstraintViolationError.
func (b *BPlusTree) Insert(key types.Value, rowKey []byte) error {
	return b.Upsert(key, func(old [][]byte, exists bool) ([][]byte, error) {
		if exists && b.Unique {
			return nil, &errors.ConstraintViolationError{
				Constraint: "unique index",
				Key:        key.String(),
			}
		}
		return append(old, rowKey), nil
	})
}

// Remove tira um posting da chave. Slot vazio some da folha.
func (b *BPlusTree) Remove(key types.Value, rowKey []byte) error {
	return b.Upsert(key, func(old [][]byte, exists bool) ([][]byte, error) {
		if !exists {
			return nil, nil
		}
		kept := old[:0]
		for _, rk := range old {
			if !bytes.Equal(rk, rowKey) {
				kept = append(kept, rk)
			}
		}
		return kept, nil
	})
}

// Upsert executa fn sobre os postings atuais da chave segurando o lock
// da folha (read-modify-write atômico).
func (b *BPlusTree) Upsert(key types.Value, fn func(old [][]byte, exists bool) ([][]byte, error)) error {
	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false)
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
func (b *BPlusTree) upsertTopDown(curr *Node, key types.Value, fn func(old [][]byte, exists bool) ([][]byte, error)) error {
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := curr.childIndex(key)

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			// Split preventivo!
			curr.SplitChild(i)

			// Após o split, verificamos para qual filho descer
			if key.CompareTotal(curr.Keys[i]) >= 0 {
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		// Latch Crabbing: solta o pai, mantém o filho
		curr.Unlock()
		curr = child
	}

	// Folha lockada e garantidamente não-cheia
	return curr.UpsertNonFull(key, fn)
}

// Get retorna os postings da chave (RLock coupling na descida)
func (b *BPlusTree) Get(key types.Value) ([][]byte, bool) {
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
		child := curr.Children[curr.childIndex(key)]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	idx := curr.lowerBound(key)
	if idx < curr.N && curr.Keys[idx].CompareTotal(key) == 0 {
		return curr.Postings[idx], true
	}
	return nil, false
}

// FindLeafLowerBound retorna a folha e o índice do primeiro slot >= key
// (key com Kind NULL posiciona no começo da árvore).
// O nó retornado vem com RLock adquirido — O CHAMADOR DEVE SOLTAR.
func (b *BPlusTree) FindLeafLowerBound(key types.Value) (*Node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		var i int
		if key.Kind == types.KindNull {
			i = 0
		} else {
			i = curr.childIndex(key)
		}

		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	var idx int
	if key.Kind != types.KindNull {
		idx = curr.lowerBound(key)
	}

	return curr, idx
}

// Len conta as chaves distintas (uso em testes e estatísticas)
func (b *BPlusTree) Len() int {
	node, _ := b.FindLeafLowerBound(types.Null())
	count := 0
	for node != nil {
		count += node.N
		next := node.Next
		next.RLock()
		node.RUnlock()
		node = next
	}
	return count
}
