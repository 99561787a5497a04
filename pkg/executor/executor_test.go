package executor_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/bobboyms/olap-engine/pkg/catalog"
	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
	"github.com/bobboyms/olap-engine/pkg/executor"
	"github.com/bobboyms/olap-engine/pkg/index"
	"github.com/bobboyms/olap-engine/pkg/kernel"
	"github.com/bobboyms/olap-engine/pkg/planner"
	"github.com/bobboyms/olap-engine/pkg/storage"
	"github.com/bobboyms/olap-engine/pkg/txn"
	"github.com/bobboyms/olap-engine/pkg/types"
	"github.com/bobboyms/olap-engine/pkg/wal"
)

type testEngine struct {
	exec   *executor.Executor
	txns   *txn.Manager
	cat    *catalog.Catalog
	stats  *catalog.Stats
	reg    *index.Registry
	walDir string
}

func newTestEngine(t *testing.T, accel kernel.Kernel) *testEngine {
	t.Helper()
	walDir := filepath.Join(t.TempDir(), "wal")
	opts := wal.DefaultOptions()
	opts.DirPath = walDir
	opts.SyncPolicy = wal.SyncEveryWrite
	w, err := wal.NewWALWriter(opts, nil)
	if err != nil {
		t.Fatalf("wal: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	cat := catalog.NewCatalog()
	stats := catalog.NewStats()
	reg := index.NewRegistry()
	txns := txn.NewManager(storage.NewAdapter(), w, nil)

	popts := planner.DefaultOptions()
	if accel != nil {
		popts.AcceleratorPresent = true
	}
	pl := planner.New(cat, stats, reg, popts, nil)
	return &testEngine{
		exec:   executor.New(cat, stats, reg, txns, pl, accel, nil),
		txns:   txns,
		cat:    cat,
		stats:  stats,
		reg:    reg,
		walDir: walDir,
	}
}

func createUsers(t *testing.T, e *testEngine) {
	t.Helper()
	_, err := e.exec.ExecuteAuto(&planner.CreateTableStmt{Def: catalog.TableDef{
		Name: "users",
		Columns: []catalog.ColumnDef{
			{Name: "id", Type: types.TypeInt64, Primary: true},
			{Name: "name", Type: types.TypeString},
			{Name: "age", Type: types.TypeInt64},
		},
	}})
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func insertUser(t *testing.T, e *testEngine, id int64, name string, age int64) {
	t.Helper()
	_, err := e.exec.ExecuteAuto(&planner.InsertStmt{
		Table:   "users",
		Columns: []string{"id", "name", "age"},
		Rows:    [][]types.Value{{types.NewInt(id), types.NewText(name), types.NewInt(age)}},
	})
	if err != nil {
		t.Fatalf("insert %d: %v", id, err)
	}
}

// TestSingleNodeCommit: cria users, insere duas linhas,
// SELECT * devolve as duas na ordem de inserção.
func TestSingleNodeCommit(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "alice", 30)
	insertUser(t, e, 2, "bob", 40)

	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{From: planner.TableRef{Name: "users"}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rs.RowCount != 2 {
		t.Fatalf("got %d rows, want 2", rs.RowCount)
	}
	r0, r1 := rs.Row(0), rs.Row(1)
	if r0[0].Int != 1 || string(r0[1].Text) != "alice" {
		t.Errorf("row 0 = %v", r0)
	}
	if r1[0].Int != 2 || string(r1[1].Text) != "bob" {
		t.Errorf("row 1 = %v", r1)
	}
}

func TestSelectWithPredicate(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "alice", 30)
	insertUser(t, e, 2, "bob", 40)
	insertUser(t, e, 3, "carol", 50)

	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From: planner.TableRef{Name: "users"},
		Where: []planner.Predicate{{
			Column: planner.ColumnRef{Table: "users", Column: "age"},
			Op:     planner.OpGreaterThan,
			Value:  types.NewInt(35),
		}},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rs.RowCount != 2 {
		t.Errorf("got %d rows, want 2", rs.RowCount)
	}
}

func TestPrimaryKeyIndexSeek(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 10, "x", 1)
	insertUser(t, e, 20, "y", 2)

	// A PK ganhou índice automático: o plano deve usar IndexSeek
	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From: planner.TableRef{Name: "users"},
		Where: []planner.Predicate{{
			Column: planner.ColumnRef{Table: "users", Column: "id"},
			Op:     planner.OpEqual,
			Value:  types.NewInt(20),
		}},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rs.RowCount != 1 || string(rs.Row(0)[1].Text) != "y" {
		t.Errorf("seek returned %d rows: %v", rs.RowCount, rs.Rows())
	}
}

func TestDuplicatePrimaryKeyRejected(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "alice", 30)

	_, err := e.exec.ExecuteAuto(&planner.InsertStmt{
		Table:   "users",
		Columns: []string{"id", "name", "age"},
		Rows:    [][]types.Value{{types.NewInt(1), types.NewText("imposter"), types.NewInt(99)}},
	})
	var violation *engerrors.ConstraintViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestInsertTypeMismatch(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)

	_, err := e.exec.ExecuteAuto(&planner.InsertStmt{
		Table:   "users",
		Columns: []string{"id", "name", "age"},
		Rows:    [][]types.Value{{types.NewText("not-an-int"), types.NewText("a"), types.NewInt(1)}},
	})
	var mismatch *engerrors.TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "alice", 30)
	insertUser(t, e, 2, "bob", 40)

	_, err := e.exec.ExecuteAuto(&planner.UpdateStmt{
		Table: "users",
		Set:   map[string]types.Value{"age": types.NewInt(31)},
		Where: []planner.Predicate{{
			Column: planner.ColumnRef{Column: "id"}, Op: planner.OpEqual, Value: types.NewInt(1),
		}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err = e.exec.ExecuteAuto(&planner.DeleteStmt{
		Table: "users",
		Where: []planner.Predicate{{
			Column: planner.ColumnRef{Column: "id"}, Op: planner.OpEqual, Value: types.NewInt(2),
		}},
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	rs, _ := e.exec.ExecuteAuto(&planner.SelectStmt{From: planner.TableRef{Name: "users"}})
	if rs.RowCount != 1 {
		t.Fatalf("got %d rows after delete, want 1", rs.RowCount)
	}
	if rs.Row(0)[2].Int != 31 {
		t.Errorf("age = %v, want 31", rs.Row(0)[2])
	}
}

func TestGroupByEndToEnd(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "a", 10)
	insertUser(t, e, 2, "a", 20)
	insertUser(t, e, 3, "b", 5)

	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From:    planner.TableRef{Name: "users"},
		GroupBy: []planner.ColumnRef{{Table: "users", Column: "name"}},
		Aggregates: []planner.AggregateExpr{
			{Func: planner.AggSum, Column: planner.ColumnRef{Table: "users", Column: "age"}},
			{Func: planner.AggCount, Star: true},
		},
	})
	if err != nil {
		t.Fatalf("group by: %v", err)
	}
	if rs.RowCount != 2 {
		t.Fatalf("got %d groups, want 2", rs.RowCount)
	}
	// Primeira aparição: "a" com sum 30 e count 2
	r0 := rs.Row(0)
	if string(r0[0].Text) != "a" || r0[1].Int != 30 || r0[2].Int != 2 {
		t.Errorf("group a = %v", r0)
	}
}

func TestOrderByLimit(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "c", 30)
	insertUser(t, e, 2, "a", 10)
	insertUser(t, e, 3, "b", 20)

	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From:    planner.TableRef{Name: "users"},
		OrderBy: []planner.OrderItem{{Column: planner.ColumnRef{Table: "users", Column: "age"}}},
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rs.RowCount != 2 {
		t.Fatalf("got %d rows, want 2", rs.RowCount)
	}
	if rs.Row(0)[2].Int != 10 || rs.Row(1)[2].Int != 20 {
		t.Errorf("order wrong: %v / %v", rs.Row(0), rs.Row(1))
	}
}

func TestJoinEndToEnd(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	_, err := e.exec.ExecuteAuto(&planner.CreateTableStmt{Def: catalog.TableDef{
		Name: "orders",
		Columns: []catalog.ColumnDef{
			{Name: "oid", Type: types.TypeInt64, Primary: true},
			{Name: "user_id", Type: types.TypeInt64},
		},
	}})
	if err != nil {
		t.Fatalf("create orders: %v", err)
	}
	insertUser(t, e, 1, "alice", 30)
	insertUser(t, e, 2, "bob", 40)
	for i, uid := range []int64{1, 1, 2} {
		_, err := e.exec.ExecuteAuto(&planner.InsertStmt{
			Table:   "orders",
			Columns: []string{"oid", "user_id"},
			Rows:    [][]types.Value{{types.NewInt(int64(i + 1)), types.NewInt(uid)}},
		})
		if err != nil {
			t.Fatalf("insert order: %v", err)
		}
	}

	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From: planner.TableRef{Name: "orders"},
		Joins: []planner.JoinClause{{
			Table: planner.TableRef{Name: "users"},
			On: planner.JoinCondition{
				Left:  planner.ColumnRef{Table: "orders", Column: "user_id"},
				Right: planner.ColumnRef{Table: "users", Column: "id"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if rs.RowCount != 3 {
		t.Errorf("join produced %d rows, want 3", rs.RowCount)
	}
}

func TestWindowEndToEnd(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "a", 30)
	insertUser(t, e, 2, "a", 10)
	insertUser(t, e, 3, "b", 20)

	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From: planner.TableRef{Name: "users"},
		Windows: []planner.WindowExpr{{
			Func:        planner.WinRowNumber,
			PartitionBy: []planner.ColumnRef{{Table: "users", Column: "name"}},
			OrderBy:     []planner.OrderItem{{Column: planner.ColumnRef{Table: "users", Column: "age"}}},
			Frame:       planner.DefaultFrame(),
			As:          "rn",
		}},
	})
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if rs.RowCount != 3 {
		t.Fatalf("window changed row count: %d", rs.RowCount)
	}
	// Linha id=1 (a, 30) é a segunda da partição "a"
	if rs.Row(0)[3].Int != 2 {
		t.Errorf("rn[0] = %v, want 2", rs.Row(0)[3])
	}
}

func TestTransactionalRollbackOnQueryError(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)

	// Insert com coluna inexistente falha; autocommit aborta e nada fica
	_, err := e.exec.ExecuteAuto(&planner.InsertStmt{
		Table:   "users",
		Columns: []string{"id", "ghost"},
		Rows:    [][]types.Value{{types.NewInt(1), types.NewInt(2)}},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	rs, _ := e.exec.ExecuteAuto(&planner.SelectStmt{From: planner.TableRef{Name: "users"}})
	if rs.RowCount != 0 {
		t.Errorf("aborted insert leaked %d rows", rs.RowCount)
	}
}

func TestSecondaryIndexLifecycle(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "alice", 30)
	insertUser(t, e, 2, "bob", 40)

	// CREATE INDEX com backfill
	_, err := e.exec.ExecuteAuto(&planner.CreateIndexStmt{
		Table: "users", Column: "age", Kind: index.KindBTree,
	})
	if err != nil {
		t.Fatalf("create index: %v", err)
	}

	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From: planner.TableRef{Name: "users"},
		Where: []planner.Predicate{{
			Column: planner.ColumnRef{Table: "users", Column: "age"},
			Op:     planner.OpBetween, Value: types.NewInt(35), Value2: types.NewInt(45),
		}},
	})
	if err != nil {
		t.Fatalf("range select: %v", err)
	}
	if rs.RowCount != 1 || string(rs.Row(0)[1].Text) != "bob" {
		t.Errorf("range scan rows = %v", rs.Rows())
	}

	// DROP INDEX: a mesma query volta a funcionar por table scan
	if _, err := e.exec.ExecuteAuto(&planner.DropIndexStmt{
		Table: "users", Column: "age", Kind: index.KindBTree,
	}); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	rs, err = e.exec.ExecuteAuto(&planner.SelectStmt{
		From: planner.TableRef{Name: "users"},
		Where: []planner.Predicate{{
			Column: planner.ColumnRef{Table: "users", Column: "age"},
			Op:     planner.OpBetween, Value: types.NewInt(35), Value2: types.NewInt(45),
		}},
	})
	if err != nil {
		t.Fatalf("select after drop: %v", err)
	}
	if rs.RowCount != 1 {
		t.Errorf("after drop index got %d rows, want 1", rs.RowCount)
	}
}

func TestAcceleratorEndToEnd(t *testing.T) {
	accel := kernel.NewAcceleratorKernel(kernel.NewSimulatedDevice(1<<20), 32, nil)
	e := newTestEngine(t, accel)
	createUsers(t, e)
	insertUser(t, e, 1, "a", 3)
	insertUser(t, e, 2, "b", 1)

	// Força off-load para exercitar o caminho do device
	e.stats.SetRowCount("users", 100000)
	rs, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From:    planner.TableRef{Name: "users"},
		OrderBy: []planner.OrderItem{{Column: planner.ColumnRef{Table: "users", Column: "age"}}},
	})
	if err != nil {
		t.Fatalf("accelerated select: %v", err)
	}
	if rs.RowCount != 2 || rs.Row(0)[2].Int != 1 {
		t.Errorf("accelerated sort wrong: %v", rs.Rows())
	}
}

// TestPushdownSemanticsPreserved: o resultado com
// otimizador é igual ao do plano ingênuo.
func TestPushdownSemanticsPreserved(t *testing.T) {
	e := newTestEngine(t, nil)
	createUsers(t, e)
	insertUser(t, e, 1, "alice", 30)
	insertUser(t, e, 2, "bob", 40)
	insertUser(t, e, 3, "carol", 50)

	// Query com predicado qualificado (sofre pushdown)
	optimized, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From: planner.TableRef{Name: "users"},
		Where: []planner.Predicate{{
			Column: planner.ColumnRef{Table: "users", Column: "age"},
			Op:     planner.OpGreaterOrEqual, Value: types.NewInt(40),
		}},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	// Mesma query com predicado não-qualificado (fica no Filter)
	unqualified, err := e.exec.ExecuteAuto(&planner.SelectStmt{
		From: planner.TableRef{Name: "users"},
		Where: []planner.Predicate{{
			Column: planner.ColumnRef{Column: "age"},
			Op:     planner.OpGreaterOrEqual, Value: types.NewInt(40),
		}},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if optimized.RowCount != unqualified.RowCount {
		t.Fatalf("pushdown changed semantics: %d != %d rows",
			optimized.RowCount, unqualified.RowCount)
	}
	for i := 0; i < optimized.RowCount; i++ {
		if optimized.Row(i)[0].Int != unqualified.Row(i)[0].Int {
			t.Errorf("row %d differs between plans", i)
		}
	}
}
