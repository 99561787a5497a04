package index

import (
	"sort"
	"sync"

	"github.com/bobboyms/olap-engine/pkg/types"
)

// Node de B+ Tree. Folhas carregam postings (chaves de linha no storage);
// nós internos apenas separadores. Keys[i] é a menor chave da subárvore
// Children[i+1].
type Node struct {
	T        int
	Keys     []types.Value
	Postings [][][]byte // Apenas em folhas: lista de row keys por chave
	Children []*Node    // Apenas em nós internos
	Leaf     bool
	N        int          // Número de chaves atual
	Next     *Node        // Próxima folha (lista ligada para scans)
	mu       sync.RWMutex // Latch para controle de concorrência granular
}

func NewNode(t int, leaf bool) *Node {
	return &Node{
		T:        t,
		Leaf:     leaf,
		Keys:     make([]types.Value, 0, 2*t-1),
		Postings: make([][][]byte, 0, 2*t-1),
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

// lowerBound retorna o primeiro índice cuja chave é >= key
func (n *Node) lowerBound(key types.Value) int {
	return sort.Search(n.N, func(i int) bool {
		return n.Keys[i].CompareTotal(key) >= 0
	})
}

// childIndex retorna o índice do filho que pode conter key
func (n *Node) childIndex(key types.Value) int {
	i := 0
	for i < n.N && key.CompareTotal(n.Keys[i]) >= 0 {
		i++
	}
	return i
}

// SplitChild divide o filho cheio na posição i.
// Pré-condição: n e Children[i] estão lockados pelo chamador.
func (n *Node) SplitChild(i int) {
	child := n.Children[i]
	t := child.T
	right := NewNode(t, child.Leaf)

	if child.Leaf {
		// Folha: esquerda fica com as T primeiras, direita com o resto.
		// O separador é COPIADO (a menor chave da direita continua na folha).
		right.Keys = append(right.Keys, child.Keys[t:child.N]...)
		right.Postings = append(right.Postings, child.Postings[t:child.N]...)
		right.N = child.N - t

		child.Keys = child.Keys[:t]
		child.Postings = child.Postings[:t]
		child.N = t

		right.Next = child.Next
		child.Next = right

		sep := right.Keys[0]
		n.insertSeparator(i, sep, right)
		return
	}

	// Interno: o separador SOBE (não fica em nenhum dos lados)
	sep := child.Keys[t-1]
	right.Keys = append(right.Keys, child.Keys[t:child.N]...)
	right.Children = append(right.Children, child.Children[t:child.N+1]...)
	right.N = child.N - t

	child.Keys = child.Keys[:t-1]
	child.Children = child.Children[:t]
	child.N = t - 1

	n.insertSeparator(i, sep, right)
}

func (n *Node) insertSeparator(i int, sep types.Value, right *Node) {
	n.Keys = append(n.Keys, types.Value{})
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = sep

	n.Children = append(n.Children, nil)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = right

	n.N++
}

// UpsertNonFull aplica fn ao slot da chave na folha, que já está lockada
// e garantidamente não-cheia (split preventivo na descida).
// fn recebe (postings atuais, exists) e retorna os novos postings;
// retornar lista vazia com exists=true remove o slot.
func (n *Node) UpsertNonFull(key types.Value, fn func(old [][]byte, exists bool) ([][]byte, error)) error {
	idx := n.lowerBound(key)

	if idx < n.N && n.Keys[idx].CompareTotal(key) == 0 {
		newPostings, err := fn(n.Postings[idx], true)
		if err != nil {
			return err
		}
		if len(newPostings) == 0 {
			// Remoção lazy: tira o slot da folha sem rebalancear
			copy(n.Keys[idx:], n.Keys[idx+1:n.N])
			copy(n.Postings[idx:], n.Postings[idx+1:n.N])
			n.Keys = n.Keys[:n.N-1]
			n.Postings = n.Postings[:n.N-1]
			n.N--
			return nil
		}
		n.Postings[idx] = newPostings
		return nil
	}

	newPostings, err := fn(nil, false)
	if err != nil {
		return err
	}
	if len(newPostings) == 0 {
		return nil // Nada a inserir
	}

	// Abre espaço para a nova chave
	n.Keys = append(n.Keys, types.Value{})
	n.Postings = append(n.Postings, nil)
	copy(n.Keys[idx+1:], n.Keys[idx:])
	copy(n.Postings[idx+1:], n.Postings[idx:])

	n.Keys[idx] = key
	n.Postings[idx] = newPostings
	n.N++
	return nil
}
