package sim

import (
	"container/heap"
	"math/rand"
)

// TaskKind é o sum type das tarefas agendadas. Cada callback de I/O
// colapsa para "entregue este desfecho àquela tarefa" — o payload é a
// closure, o kind existe para depuração e serialização determinística.
type TaskKind int

const (
	TaskTimer TaskKind = iota
	TaskDiskRead
	TaskDiskWrite
	TaskNetDeliver
)

func (k TaskKind) String() string {
	return [...]string{"timer", "disk_read", "disk_write", "net_deliver"}[k]
}

// Task é uma entrada agendada no tempo virtual
type Task struct {
	ID        uint64
	Time      uint64 // Instante virtual de disparo
	Seq       uint64 // Ordem de inserção (desempate determinístico)
	Kind      TaskKind
	Run       func()
	cancelled bool
	index     int // Posição no heap
}

// taskHeap ordena por (Time, Seq)
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].Seq < h[j].Seq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler é o dono do tempo virtual global: um gerador pseudo-
// aleatório com seed fixa e uma fila de tarefas. Avança sempre para a
// tarefa mais próxima; empates quebram pela ordem de inserção.
type Scheduler struct {
	rng    *rand.Rand
	now    uint64
	nextID uint64
	seq    uint64
	queue  taskHeap
	tasks  map[uint64]*Task
}

// NewScheduler cria o scheduler com a seed dada (mesma seed, mesma
// execução)
func NewScheduler(seed int64) *Scheduler {
	return &Scheduler{
		rng:   rand.New(rand.NewSource(seed)),
		tasks: make(map[uint64]*Task),
	}
}

// Now retorna o tempo virtual corrente
func (s *Scheduler) Now() uint64 {
	return s.now
}

// Rand expõe o gerador (componentes da simulação compartilham a seed)
func (s *Scheduler) Rand() *rand.Rand {
	return s.rng
}

// Schedule agenda fn para daqui a delay unidades virtuais
func (s *Scheduler) Schedule(delay uint64, kind TaskKind, fn func()) uint64 {
	s.nextID++
	s.seq++
	task := &Task{
		ID:   s.nextID,
		Time: s.now + delay,
		Seq:  s.seq,
		Kind: kind,
		Run:  fn,
	}
	heap.Push(&s.queue, task)
	s.tasks[task.ID] = task
	return task.ID
}

// Cancel remove uma tarefa agendada. Retorna false se já disparou.
func (s *Scheduler) Cancel(id uint64) bool {
	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	task.cancelled = true
	delete(s.tasks, id)
	return true
}

// step dispara a próxima tarefa. Retorna false com a fila vazia.
func (s *Scheduler) step() bool {
	for s.queue.Len() > 0 {
		task := heap.Pop(&s.queue).(*Task)
		if task.cancelled {
			continue
		}
		delete(s.tasks, task.ID)
		s.now = task.Time
		task.Run()
		return true
	}
	return false
}

// RunFor avança até Δ unidades virtuais (ou até drenar)
func (s *Scheduler) RunFor(delta uint64) {
	deadline := s.now + delta
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.Time > deadline {
			break
		}
		s.step()
	}
	if s.now < deadline {
		s.now = deadline
	}
}

// RunUntilDrained roda até não restar tarefa agendada
func (s *Scheduler) RunUntilDrained() {
	for s.step() {
	}
}

// Pending conta as tarefas agendadas vivas
func (s *Scheduler) Pending() int {
	return len(s.tasks)
}
