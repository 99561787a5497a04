package kernel

import (
	"testing"

	"github.com/bobboyms/olap-engine/pkg/column"
	"github.com/bobboyms/olap-engine/pkg/planner"
	"github.com/bobboyms/olap-engine/pkg/types"
)

func intCol(name string, vals ...interface{}) *column.Column {
	c := column.NewColumn(name, types.TypeInt64)
	for _, v := range vals {
		if v == nil {
			c.Append(types.Null())
		} else {
			c.Append(types.NewInt(int64(v.(int))))
		}
	}
	return c
}

func textCol(name string, vals ...interface{}) *column.Column {
	c := column.NewColumn(name, types.TypeString)
	for _, v := range vals {
		if v == nil {
			c.Append(types.Null())
		} else {
			c.Append(types.NewText(v.(string)))
		}
	}
	return c
}

func intsOf(c *column.Column) []interface{} {
	out := make([]interface{}, c.RowCount)
	for i := 0; i < c.RowCount; i++ {
		v := c.ValueAt(i)
		if v.IsNull() {
			out[i] = nil
		} else {
			out[i] = int(v.Int)
		}
	}
	return out
}

func TestFilterDropsFalseAndNull(t *testing.T) {
	k := NewCPUKernel()
	in := NewBatch(intCol("v", 1, nil, 3, 4, nil, 6))

	out, err := k.Filter(in, FilterSpec{
		ColIdx: 0,
		Pred:   planner.Predicate{Op: planner.OpGreaterThan, Value: types.NewInt(2)},
	})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	// NULLs descartados, ordem preservada
	got := intsOf(out.Cols[0])
	want := []interface{}{3, 4, 6}
	if len(got) != 3 {
		t.Fatalf("filter output = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("filter output = %v, want %v", got, want)
		}
	}
}

func TestFilterBetweenAndLike(t *testing.T) {
	k := NewCPUKernel()

	in := NewBatch(intCol("v", 1, 5, 10, 15))
	out, _ := k.Filter(in, FilterSpec{ColIdx: 0, Pred: planner.Predicate{
		Op: planner.OpBetween, Value: types.NewInt(5), Value2: types.NewInt(10),
	}})
	if out.Rows != 2 {
		t.Errorf("BETWEEN matched %d rows, want 2", out.Rows)
	}

	names := NewBatch(textCol("s", "alice", "bob", "alan", nil))
	out, _ = k.Filter(names, FilterSpec{ColIdx: 0, Pred: planner.Predicate{
		Op: planner.OpLike, Value: types.NewText("al%"),
	}})
	if out.Rows != 2 {
		t.Errorf("LIKE matched %d rows, want 2", out.Rows)
	}
}

func TestHashJoinInnerOrder(t *testing.T) {
	k := NewCPUKernel()
	left := NewBatch(intCol("uid", 1, 2, 3, 2))
	right := NewBatch(intCol("id", 2, 1, 2), textCol("name", "x", "y", "z"))

	out, err := k.HashJoin(left, right, JoinSpec{LeftKeyIdx: 0, RightKeyIdx: 0})
	if err != nil {
		t.Fatalf("HashJoin failed: %v", err)
	}

	// Ordem: esquerda, direita dentro do bucket.
	// uid=1 -> (1,y); uid=2 -> (2,x),(2,z); uid=3 -> nada; uid=2 -> (2,x),(2,z)
	if out.Rows != 5 {
		t.Fatalf("join produced %d rows, want 5", out.Rows)
	}
	wantNames := []string{"y", "x", "z", "x", "z"}
	nameCol := out.Cols[2]
	for i, want := range wantNames {
		if got := string(nameCol.ValueAt(i).Text); got != want {
			t.Errorf("row %d name = %q, want %q (join order broken)", i, got, want)
		}
	}
}

func TestHashJoinNullKeysNeverMatch(t *testing.T) {
	k := NewCPUKernel()
	left := NewBatch(intCol("k", nil, 1))
	right := NewBatch(intCol("k", nil, 1))

	out, _ := k.HashJoin(left, right, JoinSpec{LeftKeyIdx: 0, RightKeyIdx: 0})
	if out.Rows != 1 {
		t.Errorf("join produced %d rows, want 1 (NULL keys must not join)", out.Rows)
	}
}

func TestAggregateNullHandling(t *testing.T) {
	k := NewCPUKernel()
	in := NewBatch(intCol("v", 10, nil, 20, nil, 30))

	out, err := k.Aggregate(in, []AggSpec{
		{Func: planner.AggSum, ColIdx: 0, As: "sum"},
		{Func: planner.AggCount, ColIdx: 0, As: "count"},
		{Func: planner.AggCount, Star: true, As: "count_star"},
		{Func: planner.AggAvg, ColIdx: 0, As: "avg"},
		{Func: planner.AggMin, ColIdx: 0, As: "min"},
		{Func: planner.AggMax, ColIdx: 0, As: "max"},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if out.Rows != 1 {
		t.Fatalf("aggregate produced %d rows, want 1", out.Rows)
	}

	row := out.ToResultSet().Row(0)
	if row[0].Int != 60 {
		t.Errorf("SUM = %v, want 60", row[0])
	}
	if row[1].Int != 3 {
		t.Errorf("COUNT = %v, want 3 (NULLs excluded)", row[1])
	}
	if row[2].Int != 5 {
		t.Errorf("COUNT(*) = %v, want 5 (NULLs counted)", row[2])
	}
	if row[3].Float != 20 {
		t.Errorf("AVG = %v, want 20 (SUM/non-null COUNT)", row[3])
	}
	if row[4].Int != 10 || row[5].Int != 30 {
		t.Errorf("MIN/MAX = %v/%v, want 10/30", row[4], row[5])
	}
}

func TestSortStableNullSmallest(t *testing.T) {
	k := NewCPUKernel()
	in := NewBatch(
		intCol("key", 2, nil, 1, 2),
		textCol("tag", "a", "b", "c", "d"),
	)

	out, err := k.Sort(in, []SortKey{{ColIdx: 0}})
	if err != nil {
		t.Fatalf("Sort failed: %v", err)
	}

	// NULL primeiro; empate em key=2 mantém a ordem de entrada (a, d)
	wantTags := []string{"b", "c", "a", "d"}
	for i, want := range wantTags {
		if got := string(out.Cols[1].ValueAt(i).Text); got != want {
			t.Errorf("row %d tag = %q, want %q", i, got, want)
		}
	}
}

func TestSortDescending(t *testing.T) {
	k := NewCPUKernel()
	in := NewBatch(intCol("v", 1, 3, 2))
	out, _ := k.Sort(in, []SortKey{{ColIdx: 0, Desc: true}})

	got := intsOf(out.Cols[0])
	if got[0] != 3 || got[1] != 2 || got[2] != 1 {
		t.Errorf("desc sort = %v", got)
	}
}

func TestGroupByOneRowPerGroup(t *testing.T) {
	k := NewCPUKernel()
	in := NewBatch(
		textCol("dept", "eng", "sales", "eng", "sales", "eng"),
		intCol("salary", 100, 50, 200, nil, 300),
	)

	out, err := k.GroupBy(in, []int{0}, []AggSpec{
		{Func: planner.AggSum, ColIdx: 1, As: "total"},
		{Func: planner.AggCount, ColIdx: 1, As: "n"},
	})
	if err != nil {
		t.Fatalf("GroupBy failed: %v", err)
	}
	if out.Rows != 2 {
		t.Fatalf("groupby produced %d rows, want 2", out.Rows)
	}

	// Ordem de primeira aparição: eng, sales
	if got := string(out.Cols[0].ValueAt(0).Text); got != "eng" {
		t.Errorf("first group = %q, want eng", got)
	}
	if got := out.Cols[1].ValueAt(0).Int; got != 600 {
		t.Errorf("eng total = %d, want 600", got)
	}
	if got := out.Cols[2].ValueAt(1).Int; got != 1 {
		t.Errorf("sales count = %d, want 1 (NULL excluded)", got)
	}
}
