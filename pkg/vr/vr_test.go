package vr

import (
	"testing"

	"github.com/stretchr/testify/require"

	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/sim"
)

// cluster é o harness de teste: N nós sobre o scheduler determinístico
type cluster struct {
	sched   *sim.Scheduler
	net     *sim.Network
	nodes   map[uint64]*Node
	ids     []uint64
	replies []Reply
}

func newCluster(t *testing.T, n int, seed int64) *cluster {
	t.Helper()
	sched := sim.NewScheduler(seed)
	net := sim.NewNetwork(sched, sim.NetworkOptions{Delay: sim.LatencyDist{Min: 1, Max: 5}})

	c := &cluster{sched: sched, net: net, nodes: make(map[uint64]*Node)}
	for i := 1; i <= n; i++ {
		c.ids = append(c.ids, uint64(i))
	}
	for _, id := range c.ids {
		node := NewNode(id, c.ids, sim.NewClock(sched, 1.0), net, DefaultConfig(), nil)
		node.OnReply = func(r Reply) { c.replies = append(c.replies, r) }
		c.nodes[id] = node
	}
	for _, id := range c.ids {
		c.nodes[id].Start()
	}
	return c
}

func (c *cluster) primary() *Node {
	for _, id := range c.ids {
		n := c.nodes[id]
		if !n.stopped && n.Role() == RolePrimary {
			return n
		}
	}
	return nil
}

func TestRoleTransitionMatrix(t *testing.T) {
	// Apenas as transições do protocolo são permitidas; o resto falha
	allowed := map[Role][]Role{
		RolePrimary:    {RoleViewChange},
		RoleBackup:     {RolePrimary, RoleViewChange},
		RoleRecovering: {RoleBackup, RolePrimary},
		RoleViewChange: {RolePrimary, RoleBackup},
	}
	all := []Role{RolePrimary, RoleBackup, RoleRecovering, RoleViewChange}

	for _, from := range all {
		for _, to := range all {
			n := &Node{id: 1, role: from}
			err := n.transitionTo(to)

			legal := false
			for _, a := range allowed[from] {
				if a == to {
					legal = true
				}
			}
			if legal {
				require.NoError(t, err, "%v -> %v must be allowed", from, to)
				require.Equal(t, to, n.role)
			} else {
				var invalid *engerrors.InvalidStateTransitionError
				require.ErrorAs(t, err, &invalid, "%v -> %v must fail", from, to)
				require.Equal(t, from, n.role, "failed transition must not change role")
			}
		}
	}
}

func TestMessageCodecRoundTrip(t *testing.T) {
	m := &Message{
		Kind:          msgDoViewChange,
		View:          7,
		OpNumber:      42,
		CommitNumber:  40,
		NodeID:        3,
		LastNormal:    6,
		ClientID:      "client-1",
		RequestNumber: 9,
		Payload:       []byte("op"),
		Log: []Operation{
			{ClientID: "a", RequestNumber: 1, Payload: []byte("x")},
			{ClientID: "b", RequestNumber: 2, Payload: nil},
		},
		Entries: []stateEntry{{Key: []byte("k"), Value: []byte("v")}},
	}

	got, err := DecodeMessage(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m.Kind, got.Kind)
	require.Equal(t, m.View, got.View)
	require.Equal(t, m.OpNumber, got.OpNumber)
	require.Equal(t, m.ClientID, got.ClientID)
	require.Len(t, got.Log, 2)
	require.Equal(t, []byte("x"), got.Log[0].Payload)
	require.Len(t, got.Entries, 1)

	_, err = DecodeMessage([]byte{1, 2, 3})
	require.Error(t, err, "truncated frame must be rejected")
}

func TestNormalOperationCommit(t *testing.T) {
	c := newCluster(t, 5, 11)
	c.sched.RunFor(50)

	p := c.primary()
	require.NotNil(t, p)
	require.Equal(t, uint64(1), p.ID(), "node1 is the deterministic primary of view 1")

	p.SubmitRequest("client-1", 1, EncodePut([]byte("k"), []byte("v")))
	c.sched.RunFor(100)

	require.Equal(t, uint64(1), p.CommitNumber())
	require.Len(t, c.replies, 1)
	require.NoError(t, c.replies[0].Err)

	// Todas as réplicas convergem para a mesma op aplicada
	c.sched.RunFor(200)
	for _, id := range c.ids {
		v, ok := c.nodes[id].StateValue("k")
		require.True(t, ok, "node %d is missing the committed key", id)
		require.Equal(t, []byte("v"), v)
	}
}

func TestNotPrimaryReply(t *testing.T) {
	c := newCluster(t, 3, 5)
	c.sched.RunFor(20)

	backup := c.nodes[2]
	require.Equal(t, RoleBackup, backup.Role())
	backup.SubmitRequest("client-1", 1, EncodePut([]byte("k"), []byte("v")))

	require.Len(t, c.replies, 1)
	var notPrimary *engerrors.NotPrimaryError
	require.ErrorAs(t, c.replies[0].Err, &notPrimary)
}

func TestAtMostOnceDedup(t *testing.T) {
	c := newCluster(t, 3, 5)
	c.sched.RunFor(20)
	p := c.primary()

	p.SubmitRequest("client-1", 1, EncodePut([]byte("k"), []byte("v1")))
	c.sched.RunFor(100)
	// Retransmissão do mesmo request: não aplica de novo
	p.SubmitRequest("client-1", 1, EncodePut([]byte("k"), []byte("v2")))
	c.sched.RunFor(100)

	require.Equal(t, uint64(1), p.CommitNumber(), "duplicate request must not re-commit")
	v, _ := p.StateValue("k")
	require.Equal(t, []byte("v1"), v, "duplicate must not overwrite")
}

func TestLogPrefixesIdentical(t *testing.T) {
	// Réplicas na mesma view concordam no prefixo commitado do log
	c := newCluster(t, 5, 23)
	c.sched.RunFor(50)
	p := c.primary()

	for i := uint64(1); i <= 5; i++ {
		p.SubmitRequest("client-1", i, EncodePut([]byte{byte(i)}, []byte{byte(i)}))
		c.sched.RunFor(100)
	}
	c.sched.RunFor(500)

	for _, a := range c.ids {
		for _, b := range c.ids {
			na, nb := c.nodes[a], c.nodes[b]
			if na.View() != nb.View() {
				continue
			}
			k := na.CommitNumber()
			if nb.CommitNumber() < k {
				k = nb.CommitNumber()
			}
			for i := uint64(0); i < k; i++ {
				require.Equal(t, na.Log()[i], nb.Log()[i],
					"log prefix differs between %d and %d at op %d", a, b, i+1)
			}
		}
	}
}

// TestViewChange: 5 nós, node1 primária. Commita op A,
// derruba node1; nova primária na view 2; op A sobrevive; op B commita;
// node1 volta, faz state transfer e iguala o log.
func TestViewChange(t *testing.T) {
	c := newCluster(t, 5, 31)
	c.sched.RunFor(50)

	p1 := c.nodes[1]
	require.Equal(t, RolePrimary, p1.Role())

	// Op A
	p1.SubmitRequest("client-1", 1, EncodePut([]byte("a"), []byte("A")))
	c.sched.RunFor(200)
	require.GreaterOrEqual(t, p1.CommitNumber(), uint64(1))

	// Crash da primária
	p1.Stop()
	c.sched.RunFor(2000)

	p2 := c.primary()
	require.NotNil(t, p2, "a new primary must be elected")
	require.NotEqual(t, uint64(1), p2.ID())
	require.Greater(t, p2.View(), uint64(1))

	// Op A presente no log de todo nó vivo
	for _, id := range c.ids {
		if id == 1 {
			continue
		}
		log := c.nodes[id].Log()
		require.NotEmpty(t, log, "node %d lost the log", id)
		require.Equal(t, []byte("A"), applyProbe(log[0]))
	}

	// Op B commita na nova view
	p2.SubmitRequest("client-1", 2, EncodePut([]byte("b"), []byte("B")))
	c.sched.RunFor(500)
	require.GreaterOrEqual(t, p2.CommitNumber(), uint64(2))

	// node1 volta e faz catch-up por state transfer
	p1.Restart()
	c.sched.RunFor(2000)

	require.Equal(t, len(p2.Log()), len(p1.Log()), "restarted node log must match the primary")
	for i := range p2.Log() {
		require.Equal(t, p2.Log()[i], p1.Log()[i])
	}
	v, ok := p1.StateValue("b")
	require.True(t, ok)
	require.Equal(t, []byte("B"), v)
}

// applyProbe extrai o valor de um payload Put (inspeção de teste)
func applyProbe(op Operation) []byte {
	state := make(map[string][]byte)
	applyKV(state, op.Payload)
	for _, v := range state {
		return v
	}
	return nil
}

// TestPartition: minoria não commita; maioria elege e
// commita; depois do heal a minoria converge para o log completo.
func TestPartition(t *testing.T) {
	c := newCluster(t, 5, 47)
	c.sched.RunFor(50)

	p1 := c.nodes[1]
	require.Equal(t, RolePrimary, p1.Role())

	// Partição: {1} | {2,3,4,5}
	c.net.Partition([]uint64{1}, []uint64{2, 3, 4, 5})

	// A minoria (antiga primária) não consegue commitar
	p1.SubmitRequest("client-1", 1, EncodePut([]byte("minority"), []byte("x")))
	c.sched.RunFor(500)
	require.Equal(t, uint64(0), p1.CommitNumber(), "minority must not reach quorum")

	// A maioria elege nova primária e commita
	c.sched.RunFor(2000)
	p2 := c.primary()
	if p2 == p1 {
		p2 = nil
		for _, id := range []uint64{2, 3, 4, 5} {
			if c.nodes[id].Role() == RolePrimary {
				p2 = c.nodes[id]
			}
		}
	}
	require.NotNil(t, p2, "majority must elect a primary")

	p2.SubmitRequest("client-2", 1, EncodePut([]byte("majority"), []byte("y")))
	c.sched.RunFor(500)
	require.GreaterOrEqual(t, p2.CommitNumber(), uint64(1))

	// Heal: node1 converge
	c.net.Heal()
	c.sched.RunFor(5000)

	final := c.primary()
	require.NotNil(t, final)
	v, ok := c.nodes[1].StateValue("majority")
	require.True(t, ok, "healed minority node must catch up")
	require.Equal(t, []byte("y"), v)

	// Log da minoria == log da primária final
	require.Equal(t, len(final.Log()), len(c.nodes[1].Log()))
}

func TestRequestTimeout(t *testing.T) {
	c := newCluster(t, 3, 9)
	c.sched.RunFor(20)
	p := c.primary()

	// Primária isolada: o request nunca commita, o deadline expira
	c.net.Partition([]uint64{p.ID()}, []uint64{2, 3})
	// Evita que a própria primária mude de papel antes do deadline
	p.cfg.HeartbeatTimeout = 1 << 40

	p.SubmitRequest("client-1", 1, EncodePut([]byte("k"), []byte("v")))
	c.sched.RunFor(DefaultConfig().RequestTimeout + 100)

	require.NotEmpty(t, c.replies)
	var timeout *engerrors.TimeoutError
	require.ErrorAs(t, c.replies[len(c.replies)-1].Err, &timeout)
}

func TestDeterministicReplay(t *testing.T) {
	run := func() (uint64, uint64) {
		c := newCluster(t, 5, 99)
		c.sched.RunFor(50)
		p := c.primary()
		p.SubmitRequest("c", 1, EncodePut([]byte("k"), []byte("v")))
		p.Stop()
		c.sched.RunFor(3000)
		np := c.primary()
		if np == nil {
			return 0, 0
		}
		return np.ID(), np.View()
	}

	id1, view1 := run()
	id2, view2 := run()
	require.Equal(t, id1, id2, "same seed must elect the same primary")
	require.Equal(t, view1, view2)
}
