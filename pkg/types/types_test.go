package types

import "testing"

func TestValueCompareSameKind(t *testing.T) {
	cases := []struct {
		a, b Value
		want int
	}{
		{NewInt(1), NewInt(2), -1},
		{NewInt(2), NewInt(2), 0},
		{NewInt(3), NewInt(2), 1},
		{NewFloat(1.5), NewFloat(2.5), -1},
		{NewText("abc"), NewText("abd"), -1},
		{NewText("b"), NewText("ab"), 1},
		{NewBool(false), NewBool(true), -1},
		{NewBool(true), NewBool(true), 0},
	}

	for _, c := range cases {
		got, ok := c.a.Compare(c.b)
		if !ok {
			t.Fatalf("Compare(%v, %v) returned NULL, want %d", c.a, c.b, c.want)
		}
		if got != c.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestValueCompareCrossKindIsNull(t *testing.T) {
	if _, ok := NewInt(1).Compare(NewText("1")); ok {
		t.Error("cross-tag comparison should yield NULL")
	}
	if _, ok := NewInt(1).Compare(Null()); ok {
		t.Error("comparison with NULL should yield NULL")
	}
	if Null().Equal(Null()) {
		t.Error("NULL = NULL must not be true")
	}
}

func TestValueTextOrderingIsByteLexicographic(t *testing.T) {
	// Ordenação de texto é byte a byte, não collation
	a := NewBytes([]byte{0x00, 0xFF})
	b := NewBytes([]byte{0x01})
	cmp, ok := a.Compare(b)
	if !ok || cmp != -1 {
		t.Errorf("expected byte-lexicographic -1, got %d (ok=%v)", cmp, ok)
	}
}

func TestCompareTotalNullSmallest(t *testing.T) {
	if Null().CompareTotal(NewInt(-100)) != -1 {
		t.Error("NULL must sort before any value in total order")
	}
	if NewInt(5).CompareTotal(Null()) != 1 {
		t.Error("values must sort after NULL in total order")
	}
}

func TestDataTypeElementSize(t *testing.T) {
	if TypeInt64.ElementSize() != 8 {
		t.Errorf("INT64 size = %d, want 8", TypeInt64.ElementSize())
	}
	if TypeBoolean.ElementSize() != 1 {
		t.Errorf("BOOL size = %d, want 1", TypeBoolean.ElementSize())
	}
	if TypeString.ElementSize() != -1 {
		t.Error("STRING must be variable width")
	}
	if TypeString.IsFixedWidth() {
		t.Error("STRING must not be fixed width")
	}
}
