package column

import (
	"testing"

	"github.com/bobboyms/olap-engine/pkg/types"
)

func TestColumnAppendAndRead(t *testing.T) {
	c := NewColumn("id", types.TypeInt64)
	for i := int64(0); i < 10; i++ {
		if err := c.Append(types.NewInt(i * 7)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if c.RowCount != 10 {
		t.Fatalf("RowCount = %d, want 10", c.RowCount)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got := c.ValueAt(3); got.Int != 21 {
		t.Errorf("ValueAt(3) = %v, want 21", got)
	}
}

func TestColumnNullBitmap(t *testing.T) {
	c := NewColumn("name", types.TypeString)
	c.Append(types.NewText("alice"))
	c.Append(types.Null())
	c.Append(types.NewText("bob"))

	if c.IsNull(0) || !c.IsNull(1) || c.IsNull(2) {
		t.Errorf("null bitmap wrong: %v %v %v", c.IsNull(0), c.IsNull(1), c.IsNull(2))
	}
	if !c.ValueAt(1).IsNull() {
		t.Error("ValueAt on null row should return NULL")
	}
	if got := c.ValueAt(2); string(got.Text) != "bob" {
		t.Errorf("ValueAt(2) = %q, want bob", got)
	}
}

func TestColumnTypeMismatch(t *testing.T) {
	c := NewColumn("id", types.TypeInt32)
	if err := c.Append(types.NewText("oops")); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestColumnFixedWidthInvariant(t *testing.T) {
	c := NewColumn("v", types.TypeInt32)
	c.Append(types.NewInt(1))
	c.Append(types.Null())
	c.Append(types.NewInt(3))

	// NULL também ocupa um slot físico (placeholder zerado)
	if len(c.Data) != 3*4 {
		t.Errorf("data buffer = %d bytes, want 12", len(c.Data))
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestResultSetRoundTrip(t *testing.T) {
	schema := []ColumnSpec{
		{Name: "id", Type: types.TypeInt64},
		{Name: "name", Type: types.TypeString},
	}
	rows := [][]types.Value{
		{types.NewInt(1), types.NewText("alice")},
		{types.NewInt(2), types.Null()},
	}

	rs, err := FromRows(schema, rows)
	if err != nil {
		t.Fatalf("FromRows failed: %v", err)
	}
	if rs.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", rs.RowCount)
	}

	back := rs.Rows()
	if back[0][0].Int != 1 || string(back[0][1].Text) != "alice" {
		t.Errorf("row 0 mismatch: %v", back[0])
	}
	// NULL sobrevive à viagem colunar -> row-wise
	if !back[1][1].IsNull() {
		t.Error("NULL was lost in columnar -> row-wise transform")
	}
}
