package planner

import (
	"math"

	"github.com/bobboyms/olap-engine/pkg/catalog"
)

// cost.go: modelo de custo escalar. Cada peso é um fator documentado;
// o custo de um operador soma o custo intrínseco com o dos filhos e,
// no off-load, um overhead fixo de lançamento mais o custo de
// transferência proporcional a rows × row_size × 2 (ida e volta).

const (
	// cpuCostFactor é o custo de processar uma linha em um operador
	// linear na CPU. Unidade de referência do modelo.
	cpuCostFactor = 0.01

	// seqIOCostFactor é o custo de ler uma linha em acesso sequencial
	seqIOCostFactor = 1.0

	// randIOCostFactor é o custo de um acesso aleatório (descida de índice)
	randIOCostFactor = 4.0

	// hashBuildCostFactor é o custo por linha de materializar o lado de
	// build de um hash join
	hashBuildCostFactor = 0.015

	// accelComputeRatio: o acelerador processa uma linha por essa fração
	// do custo de CPU (throughput massivamente maior)
	accelComputeRatio = 0.1

	// accelLaunchOverhead é o custo fixo de disparar um kernel
	accelLaunchOverhead = 500.0

	// accelTransferFactor é o custo por byte transferido host<->device
	accelTransferFactor = 0.0005

	// defaultRowSize é a largura estimada de linha quando o esquema não
	// informa melhor
	defaultRowSize = 64.0
)

// CostModel mapeia árvores de operadores para um escalar de custo
type CostModel struct {
	stats *catalog.Stats
}

func NewCostModel(stats *catalog.Stats) *CostModel {
	return &CostModel{stats: stats}
}

// addSat soma saturando em MaxFloat64: overflow não é erro, apenas
// afasta o plano (e o off-load) da escolha.
func addSat(a, b float64) float64 {
	sum := a + b
	if math.IsInf(sum, 1) || sum > math.MaxFloat64 {
		return math.MaxFloat64
	}
	return sum
}

func mulSat(a, b float64) float64 {
	prod := a * b
	if math.IsInf(prod, 1) || prod > math.MaxFloat64 {
		return math.MaxFloat64
	}
	return prod
}

// nodeCPUCost é o custo intrínseco do operador rodando na CPU
// (sem os filhos)
func (cm *CostModel) nodeCPUCost(n *PhysicalNode) float64 {
	rows := float64(n.EstRows)
	switch n.Kind {
	case PhysicalTableScan:
		return mulSat(rows, seqIOCostFactor)
	case PhysicalIndexSeek:
		return addSat(randIOCostFactor*log2(rows+1), mulSat(rows, cpuCostFactor))
	case PhysicalIndexRangeScan, PhysicalIndexScan:
		return addSat(randIOCostFactor*log2(rows+1), mulSat(rows, seqIOCostFactor))
	case PhysicalFilter, PhysicalProject, PhysicalLimit:
		return mulSat(rows, cpuCostFactor)
	case PhysicalAggregate, PhysicalGroupBy:
		return mulSat(rows, cpuCostFactor)
	case PhysicalSort, PhysicalWindow:
		return mulSat(mulSat(rows, log2(rows+1)), cpuCostFactor)
	case PhysicalNestedLoopJoin:
		l, r := childRows(n)
		return mulSat(mulSat(l, r), cpuCostFactor)
	case PhysicalHashJoin:
		l, r := childRows(n)
		probe := mulSat(addSat(l, r), cpuCostFactor)
		build := mulSat(math.Min(l, r), hashBuildCostFactor)
		return addSat(probe, build)
	}
	return mulSat(rows, cpuCostFactor)
}

// nodeAcceleratorCost é o custo intrínseco do operador no acelerador:
// computação mais barata, mas paga lançamento e transferência dupla.
func (cm *CostModel) nodeAcceleratorCost(n *PhysicalNode) float64 {
	compute := mulSat(cm.nodeCPUCost(n), accelComputeRatio)
	transfer := mulSat(mulSat(float64(n.EstRows), defaultRowSize*2), accelTransferFactor)
	return addSat(addSat(compute, transfer), accelLaunchOverhead)
}

// Cost devolve o custo total da subárvore (intrínseco + filhos + termos
// de off-load quando o nó está anotado para acelerador)
func (cm *CostModel) Cost(n *PhysicalNode) float64 {
	var own float64
	if n.UseAccelerator {
		own = cm.nodeAcceleratorCost(n)
	} else {
		own = cm.nodeCPUCost(n)
	}
	// Paralelismo divide o trabalho linear (não o overhead de off-load)
	if n.ParallelDegree > 1 && !n.UseAccelerator {
		own = own / float64(n.ParallelDegree)
	}
	for _, c := range n.Children {
		own = addSat(own, cm.Cost(c))
	}
	return own
}

func childRows(n *PhysicalNode) (float64, float64) {
	var l, r float64
	if len(n.Children) > 0 {
		l = float64(n.Children[0].EstRows)
	}
	if len(n.Children) > 1 {
		r = float64(n.Children[1].EstRows)
	}
	return l, r
}

func log2(x float64) float64 {
	if x <= 1 {
		return 0
	}
	return math.Log2(x)
}
