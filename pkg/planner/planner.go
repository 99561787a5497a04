package planner

import (
	"go.uber.org/zap"

	"github.com/bobboyms/olap-engine/pkg/catalog"
	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/index"
)

// Options configura as decisões do planner
type Options struct {
	// AcceleratorPresent: existe um device registrado no executor
	AcceleratorPresent bool

	// MinRowsForOffload: cardinalidade mínima para considerar off-load
	MinRowsForOffload uint64

	// ForceAccelerator força o off-load de todo operador elegível
	// (ainda exige acelerador presente)
	ForceAccelerator bool

	// MaxParallelDegree limita o parallel-degree anotado
	MaxParallelDegree int

	// ParallelRowThreshold: linhas estimadas por worker
	ParallelRowThreshold uint64
}

// DefaultOptions retorna a configuração padrão
func DefaultOptions() Options {
	return Options{
		MinRowsForOffload:    10000,
		MaxParallelDegree:    4,
		ParallelRowThreshold: 10000,
	}
}

// Planner transforma AST em plano físico: lower -> otimizações lógicas
// -> seleção física -> pushdown físico -> paralelismo -> acelerador.
type Planner struct {
	catalog  *catalog.Catalog
	stats    *catalog.Stats
	registry *index.Registry
	cost     *CostModel
	opts     Options
	log      *zap.Logger
}

func New(cat *catalog.Catalog, stats *catalog.Stats, registry *index.Registry, opts Options, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{
		catalog:  cat,
		stats:    stats,
		registry: registry,
		cost:     NewCostModel(stats),
		opts:     opts,
		log:      log,
	}
}

// CostModel expõe o modelo para o executor (fallback de off-load)
func (p *Planner) CostModel() *CostModel {
	return p.cost
}

// Plan produz o plano físico de um SELECT
func (p *Planner) Plan(stmt *SelectStmt) (*PhysicalNode, error) {
	if err := p.validate(stmt); err != nil {
		return nil, err
	}

	logical := buildLogical(stmt)
	logical = p.Optimize(logical)
	physical := p.selectPhysical(logical)
	physical = pushdownPhysicalPredicates(physical)
	p.annotateParallelism(physical)
	p.annotateAccelerator(physical)

	p.log.Debug("plan built",
		zap.String("root", physical.Kind.String()),
		zap.Uint64("est_rows", physical.EstRows),
		zap.Float64("cost", p.cost.Cost(physical)))
	return physical, nil
}

// Optimize aplica os passes lógicos na ordem fixa
func (p *Planner) Optimize(root *LogicalNode) *LogicalNode {
	root = pushdownPredicates(root)
	reorderJoins(root, p.stats)
	return root
}

// ReplanSubtree refaz a seleção física de uma subárvore cujo índice foi
// derrubado entre o planejamento e a execução.
func (p *Planner) ReplanSubtree(node *PhysicalNode) *PhysicalNode {
	if !isScanKind(node.Kind) {
		return node
	}
	replacement := p.selectScanAccess(node.Table, node.Predicates)
	replacement.ParallelDegree = node.ParallelDegree
	p.annotateAccelerator(replacement)
	return replacement
}

// validate confere tabelas e colunas contra o catálogo
func (p *Planner) validate(stmt *SelectStmt) error {
	tables := map[string]*catalog.TableDef{}

	def, err := p.catalog.Table(stmt.From.Name)
	if err != nil {
		return err
	}
	tables[stmt.From.Name] = def

	for _, j := range stmt.Joins {
		jdef, err := p.catalog.Table(j.Table.Name)
		if err != nil {
			return err
		}
		tables[j.Table.Name] = jdef

		// Join sem condição (produto cartesiano): não há colunas a validar
		if j.On.Left.Column == "" && j.On.Right.Column == "" {
			continue
		}
		for _, ref := range []ColumnRef{j.On.Left, j.On.Right} {
			if err := checkColumn(tables, ref); err != nil {
				return err
			}
		}
	}

	for _, ref := range stmt.Projection {
		if err := checkColumn(tables, ref); err != nil {
			return err
		}
	}
	for _, pred := range stmt.Where {
		if err := checkColumn(tables, pred.Column); err != nil {
			return err
		}
	}
	for _, ref := range stmt.GroupBy {
		if err := checkColumn(tables, ref); err != nil {
			return err
		}
	}
	for _, o := range stmt.OrderBy {
		if err := checkColumn(tables, o.Column); err != nil {
			return err
		}
	}
	for _, agg := range stmt.Aggregates {
		if agg.Star {
			continue
		}
		if err := checkColumn(tables, agg.Column); err != nil {
			return err
		}
	}
	return nil
}

// checkColumn resolve a referência: qualificada confere na tabela dona;
// não-qualificada precisa existir em alguma tabela do escopo.
func checkColumn(tables map[string]*catalog.TableDef, ref ColumnRef) error {
	if ref.Table != "" {
		def, ok := tables[ref.Table]
		if !ok {
			return &engerrors.UnknownRelationError{Name: ref.Table}
		}
		if _, ok := def.Column(ref.Column); !ok {
			return &engerrors.UnknownColumnError{Table: ref.Table, Column: ref.Column}
		}
		return nil
	}
	for _, def := range tables {
		if _, ok := def.Column(ref.Column); ok {
			return nil
		}
	}
	return &engerrors.UnknownColumnError{Column: ref.Column}
}
