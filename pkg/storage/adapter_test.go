package storage

import (
	"bytes"
	"testing"

	"github.com/bobboyms/olap-engine/pkg/types"
)

func TestAdapterPutGetDelete(t *testing.T) {
	a := NewAdapter()

	a.Put([]byte("k1"), []byte("v1"))
	a.Put([]byte("k2"), []byte("v2"))

	v, ok := a.Get([]byte("k1"))
	if !ok || string(v) != "v1" {
		t.Fatalf("Get(k1) = %q, %v", v, ok)
	}

	a.Delete([]byte("k1"))
	if _, ok := a.Get([]byte("k1")); ok {
		t.Error("k1 should be gone after Delete")
	}
	if a.Len() != 1 {
		t.Errorf("Len = %d, want 1", a.Len())
	}
}

func TestAdapterScanPrefixOrdered(t *testing.T) {
	a := NewAdapter()
	a.Put([]byte("t/users/3"), []byte("c"))
	a.Put([]byte("t/users/1"), []byte("a"))
	a.Put([]byte("t/orders/1"), []byte("x"))
	a.Put([]byte("t/users/2"), []byte("b"))

	var got []string
	a.Scan([]byte("t/users/"), func(k, v []byte) bool {
		got = append(got, string(v))
		return true
	})

	want := []string{"a", "b", "c"}
	if len(got) != 3 {
		t.Fatalf("scan returned %d items, want 3", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scan order wrong: %v", got)
			break
		}
	}
}

func TestAdapterSnapshotIsolated(t *testing.T) {
	a := NewAdapter()
	a.Put([]byte("k"), []byte("old"))

	snap := a.Snapshot()
	a.Put([]byte("k"), []byte("new"))
	a.Put([]byte("k2"), []byte("other"))

	// Snapshot continua vendo o estado antigo
	v, ok := a.GetAt(snap, []byte("k"))
	if !ok || string(v) != "old" {
		t.Errorf("GetAt(snap, k) = %q, want old", v)
	}
	if _, ok := a.GetAt(snap, []byte("k2")); ok {
		t.Error("snapshot should not see k2")
	}

	// Estado corrente vê o novo
	v, _ = a.Get([]byte("k"))
	if string(v) != "new" {
		t.Errorf("Get(k) = %q, want new", v)
	}
}

func TestRowCodecRoundTrip(t *testing.T) {
	cols := []string{"id", "name", "score", "active", "note"}
	row := map[string]types.Value{
		"id":     types.NewInt(42),
		"name":   types.NewText("alice"),
		"score":  types.NewFloat(9.5),
		"active": types.NewBool(true),
		"note":   types.Null(),
	}

	data, err := RowToBson(cols, row)
	if err != nil {
		t.Fatalf("RowToBson failed: %v", err)
	}

	gotCols, gotRow, err := BsonToRow(data)
	if err != nil {
		t.Fatalf("BsonToRow failed: %v", err)
	}
	if len(gotCols) != 5 || gotCols[0] != "id" || gotCols[4] != "note" {
		t.Errorf("column order lost: %v", gotCols)
	}
	if gotRow["id"].Int != 42 || string(gotRow["name"].Text) != "alice" {
		t.Errorf("row mismatch: %v", gotRow)
	}
	if !gotRow["note"].IsNull() {
		t.Error("NULL column must survive the round trip")
	}
	if gotRow["score"].Float != 9.5 {
		t.Errorf("score = %v, want 9.5", gotRow["score"])
	}
}

func TestKeyCodecPreservesOrder(t *testing.T) {
	vals := []types.Value{
		types.NewInt(-100),
		types.NewInt(-1),
		types.NewInt(0),
		types.NewInt(1),
		types.NewInt(100),
	}
	var prev []byte
	for i, v := range vals {
		key := EncodeValue(nil, v)
		if i > 0 && bytes.Compare(prev, key) >= 0 {
			t.Errorf("key order broken at %v", v)
		}
		prev = key
	}

	// Floats negativos < positivos
	neg := EncodeValue(nil, types.NewFloat(-2.5))
	pos := EncodeValue(nil, types.NewFloat(1.5))
	if bytes.Compare(neg, pos) >= 0 {
		t.Error("float key order broken")
	}

	// Texto byte-lexicográfico com escape de 0x00
	a := EncodeValue(nil, types.NewBytes([]byte{0x00}))
	b := EncodeValue(nil, types.NewBytes([]byte{0x01}))
	if bytes.Compare(a, b) >= 0 {
		t.Error("text key order broken with zero bytes")
	}
}

func TestRowKeyHasTablePrefix(t *testing.T) {
	key := RowKey("users", types.NewInt(1))
	if !bytes.HasPrefix(key, TablePrefix("users")) {
		t.Errorf("row key %q missing table prefix", key)
	}
}
