package sim

// Handler recebe mensagens entregues pela rede virtual
type Handler func(from uint64, msg []byte)

// NetworkOptions configura a rede virtual
type NetworkOptions struct {
	Delay LatencyDist

	// DropProb: probabilidade de perder uma mensagem
	DropProb float64
	// DupProb: probabilidade de entregar em dobro
	DupProb float64
	// ReorderJitter: atraso extra aleatório máximo (reordenação)
	ReorderJitter uint64
}

// Network é a rede virtual: handlers registrados por nó, partições
// controláveis, atraso, perda, duplicação e reordenação — tudo
// determinístico sob a seed do scheduler.
type Network struct {
	sched    *Scheduler
	opts     NetworkOptions
	handlers map[uint64]Handler
	cut      map[[2]uint64]bool // Pares particionados (normalizado menor->maior)
}

func NewNetwork(sched *Scheduler, opts NetworkOptions) *Network {
	return &Network{
		sched:    sched,
		opts:     opts,
		handlers: make(map[uint64]Handler),
		cut:      make(map[[2]uint64]bool),
	}
}

// Register instala o handler de mensagens do nó
func (n *Network) Register(node uint64, h Handler) {
	n.handlers[node] = h
}

// Partition corta a comunicação entre todos os pares (a ∈ groupA, b ∈ groupB)
func (n *Network) Partition(groupA, groupB []uint64) {
	for _, a := range groupA {
		for _, b := range groupB {
			n.cut[pairKey(a, b)] = true
		}
	}
}

// Heal remove todas as partições
func (n *Network) Heal() {
	n.cut = make(map[[2]uint64]bool)
}

// Partitioned responde se o par está cortado
func (n *Network) Partitioned(a, b uint64) bool {
	return n.cut[pairKey(a, b)]
}

// Send agenda a entrega da mensagem. Perda, atraso, duplicação e
// reordenação acontecem aqui; o receptor vê apenas a entrega.
func (n *Network) Send(from, to uint64, msg []byte) {
	if n.Partitioned(from, to) {
		return // Partição: silêncio, não erro
	}
	if n.roll(n.opts.DropProb) {
		return
	}

	n.deliver(from, to, msg)
	if n.roll(n.opts.DupProb) {
		n.deliver(from, to, msg)
	}
}

func (n *Network) deliver(from, to uint64, msg []byte) {
	delay := n.opts.Delay.sample(n.sched)
	if n.opts.ReorderJitter > 0 {
		delay += uint64(n.sched.Rand().Int63n(int64(n.opts.ReorderJitter + 1)))
	}
	payload := append([]byte(nil), msg...)

	n.sched.Schedule(delay, TaskNetDeliver, func() {
		// Partição pode ter surgido em trânsito
		if n.Partitioned(from, to) {
			return
		}
		if h, ok := n.handlers[to]; ok {
			h(from, payload)
		}
	})
}

func (n *Network) roll(prob float64) bool {
	if prob <= 0 {
		return false
	}
	return n.sched.Rand().Float64() < prob
}

func pairKey(a, b uint64) [2]uint64 {
	if a > b {
		a, b = b, a
	}
	return [2]uint64{a, b}
}
