package vr

import (
	"sort"
	"strconv"

	"go.uber.org/zap"

	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/sim"
)

// Config são os parâmetros de tempo do protocolo (unidades virtuais)
type Config struct {
	HeartbeatInterval uint64
	HeartbeatTimeout  uint64
	RequestTimeout    uint64 // Deadline do cliente
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 50,
		HeartbeatTimeout:  200,
		RequestTimeout:    1000,
	}
}

// Reply é o desfecho de um Request entregue ao cliente
type Reply struct {
	ClientID      string
	RequestNumber uint64
	Result        []byte
	Err           error
}

// Node é uma réplica do protocolo Viewstamped Replication: operação
// normal com quorum, heartbeats, view change e state transfer. O estado
// aplicado é um KV linearizável.
type Node struct {
	id      uint64
	cluster []uint64 // Todos os ids, ordenados (inclui o próprio)
	cfg     Config

	role         Role
	view         uint64
	lastNormal   uint64 // Última view em operação normal
	opNumber     uint64
	commitNumber uint64
	oplog        []Operation

	// Máquina de estado aplicada + dedup at-most-once por cliente
	state       map[string][]byte
	lastApplied map[string]uint64
	lastReply   map[string][]byte

	clock  *sim.Clock
	net    *sim.Network
	logger *zap.Logger

	stopped        bool
	lastPrimaryMsg uint64

	acks     map[uint64]map[uint64]bool // op -> votantes do PrepareOk
	svcVotes map[uint64]map[uint64]bool // view -> votantes do StartViewChange
	dvcMsgs  map[uint64]map[uint64]*Message
	dvcSent  map[uint64]bool // views para as quais já enviamos DoViewChange

	pendingTimers map[string]uint64 // (client/req) -> timer do deadline

	// OnReply entrega respostas ao cliente (teste/harness)
	OnReply func(Reply)
}

// NewNode cria a réplica. roles iniciais: a primária da view 1 nasce
// PRIMARY, o resto BACKUP.
func NewNode(id uint64, cluster []uint64, clock *sim.Clock, net *sim.Network, cfg Config, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := append([]uint64(nil), cluster...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := &Node{
		id:            id,
		cluster:       sorted,
		cfg:           cfg,
		role:          RoleBackup,
		view:          1,
		lastNormal:    1,
		state:         make(map[string][]byte),
		lastApplied:   make(map[string]uint64),
		lastReply:     make(map[string][]byte),
		clock:         clock,
		net:           net,
		logger:        logger,
		acks:          make(map[uint64]map[uint64]bool),
		svcVotes:      make(map[uint64]map[uint64]bool),
		dvcMsgs:       make(map[uint64]map[uint64]*Message),
		dvcSent:       make(map[uint64]bool),
		pendingTimers: make(map[string]uint64),
	}
	if n.primaryFor(n.view) == id {
		n.role = RolePrimary
	}
	return n
}

// Start registra o handler de rede e arma os timers
func (n *Node) Start() {
	n.net.Register(n.id, n.onMessage)
	n.lastPrimaryMsg = n.clock.Now()
	n.armHeartbeat()
	n.armMonitor()
}

// === Acessores (testes e harness) ===

func (n *Node) ID() uint64            { return n.id }
func (n *Node) Role() Role            { return n.role }
func (n *Node) View() uint64          { return n.view }
func (n *Node) OpNumber() uint64      { return n.opNumber }
func (n *Node) CommitNumber() uint64  { return n.commitNumber }
func (n *Node) Log() []Operation      { return n.oplog }
func (n *Node) StateValue(key string) ([]byte, bool) {
	v, ok := n.state[key]
	return v, ok
}

// quorum é ⌊N/2⌋+1
func (n *Node) quorum() int {
	return len(n.cluster)/2 + 1
}

// primaryFor é a seleção determinística: ids ordenados, índice (v-1) mod N
func (n *Node) primaryFor(view uint64) uint64 {
	return n.cluster[(view-1)%uint64(len(n.cluster))]
}

// Stop simula o crash do nó (silêncio total)
func (n *Node) Stop() {
	n.stopped = true
}

// Restart religa o nó em RECOVERING: estado volátil limpo, catch-up por
// state transfer.
func (n *Node) Restart() {
	n.stopped = false
	n.role = RoleRecovering
	n.oplog = nil
	n.opNumber = 0
	n.commitNumber = 0
	n.state = make(map[string][]byte)
	n.lastApplied = make(map[string]uint64)
	n.lastReply = make(map[string][]byte)
	n.lastPrimaryMsg = n.clock.Now()

	// Pede o estado a todos os peers; a primeira NewState resolve
	for _, peer := range n.peers() {
		n.send(peer, &Message{Kind: msgGetState, View: n.view, OpNumber: 0, NodeID: n.id})
	}
	n.armMonitor()
	n.armHeartbeat()
}

func (n *Node) peers() []uint64 {
	out := make([]uint64, 0, len(n.cluster)-1)
	for _, id := range n.cluster {
		if id != n.id {
			out = append(out, id)
		}
	}
	return out
}

func (n *Node) send(to uint64, m *Message) {
	n.net.Send(n.id, to, m.Encode())
}

func (n *Node) broadcast(m *Message) {
	for _, peer := range n.peers() {
		n.send(peer, m)
	}
}

// === Timers ===

func (n *Node) armHeartbeat() {
	n.clock.After(n.cfg.HeartbeatInterval, func() {
		if !n.stopped && n.role == RolePrimary {
			n.broadcast(&Message{
				Kind:         msgHeartbeat,
				View:         n.view,
				TS:           n.clock.Now(),
				CommitNumber: n.commitNumber,
				NodeID:       n.id,
			})
		}
		if !n.stopped {
			n.armHeartbeat()
		}
	})
}

func (n *Node) armMonitor() {
	n.clock.After(n.cfg.HeartbeatTimeout, func() {
		if n.stopped {
			return
		}
		if n.role != RolePrimary && n.clock.Now()-n.lastPrimaryMsg >= n.cfg.HeartbeatTimeout {
			// Silêncio da primária: inicia view change
			n.startViewChange(n.view + 1)
		}
		n.armMonitor()
	})
}

// === Cliente ===

// SubmitRequest é a entrada do cliente. Em réplica não-primária devolve
// NotPrimary; o deadline expira com Timeout sem afetar o servidor.
func (n *Node) SubmitRequest(clientID string, reqNum uint64, op []byte) {
	if n.stopped {
		return
	}
	if n.role != RolePrimary {
		n.reply(Reply{
			ClientID:      clientID,
			RequestNumber: reqNum,
			Err:           &engerrors.NotPrimaryError{NodeID: n.id, View: n.view},
		})
		return
	}

	// Dedup at-most-once por (client_id, request_number)
	if last, ok := n.lastApplied[clientID]; ok && reqNum <= last {
		n.reply(Reply{ClientID: clientID, RequestNumber: reqNum, Result: n.lastReply[clientID]})
		return
	}

	n.opNumber++
	op1 := Operation{ClientID: clientID, RequestNumber: reqNum, Payload: op}
	n.oplog = append(n.oplog, op1)
	n.voteAck(n.opNumber, n.id)
	n.armDeadline(clientID, reqNum)

	n.broadcast(&Message{
		Kind:          msgPrepare,
		View:          n.view,
		OpNumber:      n.opNumber,
		CommitNumber:  n.commitNumber,
		ClientID:      clientID,
		RequestNumber: reqNum,
		Payload:       op,
		NodeID:        n.id,
	})

	n.maybeCommit()
}

func (n *Node) armDeadline(clientID string, reqNum uint64) {
	key := deadlineKey(clientID, reqNum)
	n.pendingTimers[key] = n.clock.After(n.cfg.RequestTimeout, func() {
		if _, pending := n.pendingTimers[key]; pending {
			delete(n.pendingTimers, key)
			n.reply(Reply{
				ClientID:      clientID,
				RequestNumber: reqNum,
				Err:           &engerrors.TimeoutError{Op: "request"},
			})
		}
	})
}

func deadlineKey(clientID string, reqNum uint64) string {
	return clientID + "/" + strconv.FormatUint(reqNum, 10)
}

func (n *Node) reply(r Reply) {
	if n.OnReply != nil {
		n.OnReply(r)
	}
}

// === Mensagens ===

func (n *Node) onMessage(from uint64, data []byte) {
	if n.stopped {
		return // Crash = indisponibilidade silenciosa
	}
	m, err := DecodeMessage(data)
	if err != nil {
		n.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch m.Kind {
	case msgPrepare:
		n.onPrepare(from, m)
	case msgPrepareOk:
		n.onPrepareOk(m)
	case msgCommit:
		n.onCommit(from, m)
	case msgHeartbeat:
		n.onHeartbeat(m)
	case msgStartViewChange:
		n.onStartViewChange(m)
	case msgDoViewChange:
		n.onDoViewChange(m)
	case msgStartView:
		n.onStartView(m)
	case msgGetState:
		n.onGetState(m)
	case msgNewState:
		n.onNewState(m)
	}
}

// demote leva o nó para BACKUP respeitando o grafo de transições
// (PRIMARY precisa passar por VIEW_CHANGE)
func (n *Node) demote() {
	if n.role == RoleBackup {
		return
	}
	if n.role == RolePrimary {
		n.transitionTo(RoleViewChange)
	}
	n.transitionTo(RoleBackup)
}

// syncToView adota uma view mais alta descoberta em operação normal:
// o nó perdeu o view change, então a cauda não-commitada do log local é
// lixo de uma view morta. Trunca no commit e pede o log novo ao peer.
func (n *Node) syncToView(from uint64, view uint64) {
	n.view = view
	n.lastNormal = view
	n.demote()
	n.oplog = n.oplog[:n.commitNumber]
	n.opNumber = n.commitNumber
	n.lastPrimaryMsg = n.clock.Now()
	n.send(from, &Message{Kind: msgGetState, View: n.view, OpNumber: n.opNumber, NodeID: n.id})
}

func (n *Node) onPrepare(from uint64, m *Message) {
	if m.View < n.view {
		return // StaleView: ignorado
	}
	if m.View > n.view {
		n.syncToView(from, m.View)
		return
	}
	n.lastPrimaryMsg = n.clock.Now()

	switch {
	case m.OpNumber == n.opNumber+1:
		n.oplog = append(n.oplog, Operation{
			ClientID:      m.ClientID,
			RequestNumber: m.RequestNumber,
			Payload:       m.Payload,
		})
		n.opNumber = m.OpNumber
	case m.OpNumber > n.opNumber+1:
		// Lacuna no log: pede o sufixo que falta
		n.send(from, &Message{Kind: msgGetState, View: n.view, OpNumber: n.opNumber, NodeID: n.id})
		return
	default:
		// Já temos esta op: PrepareOk é idempotente
	}

	n.applyCommits(m.CommitNumber)
	n.send(from, &Message{Kind: msgPrepareOk, View: n.view, OpNumber: m.OpNumber, NodeID: n.id})
}

func (n *Node) voteAck(op, voter uint64) {
	if n.acks[op] == nil {
		n.acks[op] = make(map[uint64]bool)
	}
	n.acks[op][voter] = true
}

func (n *Node) onPrepareOk(m *Message) {
	if m.View != n.view || n.role != RolePrimary {
		return
	}
	n.voteAck(m.OpNumber, m.NodeID)
	n.maybeCommit()
}

// maybeCommit avança o commit_number enquanto a próxima op tem quorum
func (n *Node) maybeCommit() {
	advanced := false
	for n.commitNumber < n.opNumber {
		next := n.commitNumber + 1
		if len(n.acks[next]) < n.quorum() {
			break
		}
		n.commitNumber = next
		n.applyOp(n.oplog[next-1], true)
		delete(n.acks, next)
		advanced = true
		opsCommitted.Inc()
	}
	if advanced {
		n.broadcast(&Message{Kind: msgCommit, View: n.view, CommitNumber: n.commitNumber, NodeID: n.id})
	}
}

func (n *Node) onCommit(from uint64, m *Message) {
	if m.View < n.view {
		return
	}
	if m.View > n.view {
		n.syncToView(from, m.View)
		return
	}
	n.lastPrimaryMsg = n.clock.Now()
	if m.CommitNumber > n.opNumber {
		n.send(from, &Message{Kind: msgGetState, View: n.view, OpNumber: n.opNumber, NodeID: n.id})
		return
	}
	n.applyCommits(m.CommitNumber)
}

func (n *Node) onHeartbeat(m *Message) {
	if m.View < n.view {
		return
	}
	if m.View > n.view {
		n.syncToView(m.NodeID, m.View)
		return
	}
	n.lastPrimaryMsg = n.clock.Now()
	// O heartbeat carona o commit_number: backups adormecidos alcançam
	if m.CommitNumber > n.opNumber {
		n.send(m.NodeID, &Message{Kind: msgGetState, View: n.view, OpNumber: n.opNumber, NodeID: n.id})
		return
	}
	n.applyCommits(m.CommitNumber)
}

// applyCommits aplica até min(target, opNumber), em ordem estrita
func (n *Node) applyCommits(target uint64) {
	if target > n.opNumber {
		target = n.opNumber
	}
	for n.commitNumber < target {
		n.commitNumber++
		n.applyOp(n.oplog[n.commitNumber-1], false)
	}
}

// applyOp aplica a operação à máquina de estado com dedup at-most-once
func (n *Node) applyOp(op Operation, isPrimary bool) {
	if last, ok := n.lastApplied[op.ClientID]; ok && op.RequestNumber <= last {
		if isPrimary {
			n.replyCommitted(op, n.lastReply[op.ClientID])
		}
		return
	}

	result := applyKV(n.state, op.Payload)
	n.lastApplied[op.ClientID] = op.RequestNumber
	n.lastReply[op.ClientID] = result

	if isPrimary {
		n.replyCommitted(op, result)
	}
}

func (n *Node) replyCommitted(op Operation, result []byte) {
	key := deadlineKey(op.ClientID, op.RequestNumber)
	if timer, ok := n.pendingTimers[key]; ok {
		n.clock.Cancel(timer)
		delete(n.pendingTimers, key)
	}
	n.reply(Reply{ClientID: op.ClientID, RequestNumber: op.RequestNumber, Result: result})
}

// === View change ===

func (n *Node) startViewChange(newView uint64) {
	if newView <= n.view && n.role == RoleViewChange {
		return
	}
	if newView <= n.view {
		newView = n.view + 1
	}
	n.view = newView
	if n.role != RoleViewChange {
		if n.role == RoleRecovering {
			// RECOVERING não participa de eleição; espera state transfer
			return
		}
		if err := n.transitionTo(RoleViewChange); err != nil {
			n.logger.Warn("cannot enter view change", zap.Error(err))
			return
		}
	}
	viewChanges.Inc()
	n.logger.Info("starting view change",
		zap.Uint64("node", n.id), zap.Uint64("view", newView))

	n.voteSVC(newView, n.id)
	n.broadcast(&Message{Kind: msgStartViewChange, View: newView, NodeID: n.id})
	n.checkSVCQuorum(newView)
}

func (n *Node) voteSVC(view, voter uint64) {
	if n.svcVotes[view] == nil {
		n.svcVotes[view] = make(map[uint64]bool)
	}
	n.svcVotes[view][voter] = true
}

func (n *Node) onStartViewChange(m *Message) {
	if m.View < n.view {
		return
	}
	if m.View > n.view || n.role != RoleViewChange {
		n.startViewChange(m.View)
	}
	n.voteSVC(m.View, m.NodeID)
	n.checkSVCQuorum(m.View)
}

// checkSVCQuorum: com quorum de StartViewChange(v), cada participante
// manda DoViewChange (log completo) para a primária determinística de v
func (n *Node) checkSVCQuorum(view uint64) {
	if view != n.view || len(n.svcVotes[view]) < n.quorum() || n.dvcSent[view] {
		return
	}
	n.dvcSent[view] = true

	dvc := &Message{
		Kind:         msgDoViewChange,
		View:         view,
		OpNumber:     n.opNumber,
		CommitNumber: n.commitNumber,
		LastNormal:   n.lastNormal,
		NodeID:       n.id,
		Log:          n.oplog,
	}
	candidate := n.primaryFor(view)
	if candidate == n.id {
		n.onDoViewChange(dvc)
	} else {
		n.send(candidate, dvc)
	}
}

func (n *Node) onDoViewChange(m *Message) {
	if m.View < n.view {
		return
	}
	if n.dvcMsgs[m.View] == nil {
		n.dvcMsgs[m.View] = make(map[uint64]*Message)
	}
	n.dvcMsgs[m.View][m.NodeID] = m

	if n.primaryFor(m.View) != n.id || len(n.dvcMsgs[m.View]) < n.quorum() {
		return
	}
	if n.role == RolePrimary && n.view == m.View {
		return // Já assumimos esta view
	}

	// Escolhe o log com o maior (last_normal, op_number) lexicográfico
	var best *Message
	var maxCommit uint64
	for _, dvc := range n.dvcMsgs[m.View] {
		if best == nil ||
			dvc.LastNormal > best.LastNormal ||
			(dvc.LastNormal == best.LastNormal && dvc.OpNumber > best.OpNumber) {
			best = dvc
		}
		if dvc.CommitNumber > maxCommit {
			maxCommit = dvc.CommitNumber
		}
	}

	n.view = m.View
	n.oplog = append([]Operation(nil), best.Log...)
	n.opNumber = best.OpNumber
	if err := n.transitionTo(RolePrimary); err != nil {
		n.logger.Warn("cannot become primary", zap.Error(err))
		return
	}
	n.lastNormal = n.view
	n.acks = make(map[uint64]map[uint64]bool)
	n.applyCommits(maxCommit)

	n.logger.Info("new primary elected",
		zap.Uint64("node", n.id),
		zap.Uint64("view", n.view),
		zap.Uint64("op_number", n.opNumber),
		zap.Uint64("commit_number", n.commitNumber))

	n.broadcast(&Message{
		Kind:         msgStartView,
		View:         n.view,
		OpNumber:     n.opNumber,
		CommitNumber: n.commitNumber,
		NodeID:       n.id,
		Log:          n.oplog,
	})

	// Ops herdadas sem commit são re-propostas na view nova; os backups
	// já têm o log (StartView) e respondem PrepareOk idempotente
	for op := n.commitNumber + 1; op <= n.opNumber; op++ {
		o := n.oplog[op-1]
		n.voteAck(op, n.id)
		n.broadcast(&Message{
			Kind:          msgPrepare,
			View:          n.view,
			OpNumber:      op,
			CommitNumber:  n.commitNumber,
			ClientID:      o.ClientID,
			RequestNumber: o.RequestNumber,
			Payload:       o.Payload,
			NodeID:        n.id,
		})
	}
}

func (n *Node) onStartView(m *Message) {
	if m.View < n.view {
		return
	}
	n.view = m.View
	n.lastNormal = m.View

	// Instala o log da nova primária; a cauda não-commitada local morre
	n.oplog = append([]Operation(nil), m.Log...)
	n.opNumber = m.OpNumber
	if n.commitNumber > m.CommitNumber {
		// Nosso commit nunca pode exceder o da primária eleita: o prefixo
		// commitado sobrevive em qualquer quorum
		n.commitNumber = m.CommitNumber
	}
	n.applyCommits(m.CommitNumber)

	if n.role != RoleBackup {
		if err := n.transitionTo(RoleBackup); err != nil {
			n.logger.Warn("cannot transition to backup", zap.Error(err))
			return
		}
	}
	n.lastPrimaryMsg = n.clock.Now()
}

// === State transfer ===

func (n *Node) onGetState(m *Message) {
	reply := &Message{
		Kind:         msgNewState,
		View:         n.view,
		OpNumber:     n.opNumber,
		CommitNumber: n.commitNumber,
		NodeID:       n.id,
	}

	if m.OpNumber == 0 {
		// Nó RECOVERING: log completo + snapshot do estado aplicado
		reply.Log = n.oplog
		for k, v := range n.state {
			reply.Entries = append(reply.Entries, stateEntry{Key: []byte(k), Value: v})
		}
	} else if m.OpNumber < n.opNumber {
		reply.Log = n.oplog[m.OpNumber:]
	}
	n.send(m.NodeID, reply)
}

func (n *Node) onNewState(m *Message) {
	if m.OpNumber <= n.opNumber && n.role != RoleRecovering {
		return // Nada novo
	}

	if n.role == RoleRecovering {
		// Limpa, instala o snapshot, reaplica o log commitado (reconstrói
		// as tabelas de dedup), sai de RECOVERING
		n.state = make(map[string][]byte)
		n.lastApplied = make(map[string]uint64)
		n.lastReply = make(map[string][]byte)
		n.oplog = append([]Operation(nil), m.Log...)
		n.opNumber = m.OpNumber
		n.commitNumber = 0
		n.view = m.View
		n.lastNormal = m.View
		n.applyCommits(m.CommitNumber)
		if err := n.transitionTo(RoleBackup); err != nil {
			n.logger.Warn("cannot leave recovering", zap.Error(err))
			return
		}
		n.lastPrimaryMsg = n.clock.Now()
		return
	}

	// Sufixo: anexa as ops que faltam. O sufixo cobre
	// (opNumber do pedido, opNumber do peer]; nosso opNumber pode ter
	// avançado desde o pedido.
	missing := m.Log
	if len(missing) > 0 {
		have := int(n.opNumber) - (int(m.OpNumber) - len(missing))
		if have < 0 {
			have = 0
		}
		if have < len(missing) {
			n.oplog = append(n.oplog, missing[have:]...)
			n.opNumber = m.OpNumber
		}
	}
	if m.View > n.view {
		n.view = m.View
		n.lastNormal = m.View
		n.demote()
	}
	n.applyCommits(m.CommitNumber)
}
