package index

import (
	"fmt"
	"testing"

	"github.com/bobboyms/olap-engine/pkg/types"
)

func TestInsertAndGet(t *testing.T) {
	tree := NewTree(3)

	for i := 0; i < 100; i++ {
		key := types.NewInt(int64(i))
		rowKey := []byte(fmt.Sprintf("row/%d", i))
		if err := tree.Insert(key, rowKey); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	for i := 0; i < 100; i++ {
		postings, found := tree.Get(types.NewInt(int64(i)))
		if !found {
			t.Fatalf("key %d not found", i)
		}
		if len(postings) != 1 || string(postings[0]) != fmt.Sprintf("row/%d", i) {
			t.Errorf("key %d postings = %v", i, postings)
		}
	}

	if _, found := tree.Get(types.NewInt(1000)); found {
		t.Error("found nonexistent key")
	}
}

func TestUniqueTreeRejectsDuplicates(t *testing.T) {
	tree := NewUniqueTree(3)

	if err := tree.Insert(types.NewInt(1), []byte("a")); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := tree.Insert(types.NewInt(1), []byte("b")); err == nil {
		t.Fatal("expected constraint violation on duplicate key")
	}
}

func TestNonUniquePostingsAccumulate(t *testing.T) {
	tree := NewTree(3)
	tree.Insert(types.NewText("smith"), []byte("row/1"))
	tree.Insert(types.NewText("smith"), []byte("row/2"))

	postings, found := tree.Get(types.NewText("smith"))
	if !found || len(postings) != 2 {
		t.Fatalf("postings = %v, want 2 entries", postings)
	}
}

func TestRemove(t *testing.T) {
	tree := NewTree(3)
	tree.Insert(types.NewInt(1), []byte("a"))
	tree.Insert(types.NewInt(1), []byte("b"))

	tree.Remove(types.NewInt(1), []byte("a"))
	postings, found := tree.Get(types.NewInt(1))
	if !found || len(postings) != 1 || string(postings[0]) != "b" {
		t.Errorf("after partial remove: %v (found=%v)", postings, found)
	}

	tree.Remove(types.NewInt(1), []byte("b"))
	if _, found := tree.Get(types.NewInt(1)); found {
		t.Error("key should vanish when last posting removed")
	}
}

func TestCursorRangeScan(t *testing.T) {
	tree := NewTree(3)
	// Insere fora de ordem
	for _, i := range []int64{50, 10, 30, 20, 40, 60, 5} {
		tree.Insert(types.NewInt(i), []byte(fmt.Sprintf("row/%d", i)))
	}

	c := NewCursor(tree)
	defer c.Close()

	c.Seek(types.NewInt(20))
	var got []int64
	for c.Valid() {
		key := c.Key()
		if key.Int > 50 {
			break
		}
		got = append(got, key.Int)
		if !c.Next() {
			break
		}
	}

	want := []int64{20, 30, 40, 50}
	if len(got) != len(want) {
		t.Fatalf("scan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scan = %v, want %v", got, want)
		}
	}
}

func TestCursorFullScanOrdered(t *testing.T) {
	tree := NewTree(3)
	for i := 200; i > 0; i-- {
		tree.Insert(types.NewInt(int64(i)), []byte("r"))
	}

	c := NewCursor(tree)
	defer c.Close()
	c.Seek(types.Null())

	count := 0
	last := int64(-1)
	for c.Valid() {
		k := c.Key().Int
		if k <= last {
			t.Fatalf("scan out of order: %d after %d", k, last)
		}
		last = k
		count++
		if !c.Next() {
			break
		}
	}
	if count != 200 {
		t.Errorf("full scan visited %d keys, want 200", count)
	}
}

func TestRegistryBestForColumn(t *testing.T) {
	r := NewRegistry()
	r.Add(&Meta{Table: "users", Column: "id", Kind: KindBTree, Unique: true, Tree: NewUniqueTree(DefaultDegree)})
	r.Add(&Meta{Table: "users", Column: "email", Kind: KindHash, Tree: NewTree(DefaultDegree)})

	if m, ok := r.BestForColumn("users", "id", true); !ok || m.Kind != KindBTree {
		t.Error("expected btree index for range predicate on id")
	}
	// Hash não serve para range
	if _, ok := r.BestForColumn("users", "email", true); ok {
		t.Error("hash index must not serve range predicates")
	}
	if m, ok := r.BestForColumn("users", "email", false); !ok || m.Kind != KindHash {
		t.Error("hash index should serve equality")
	}
	if _, ok := r.BestForColumn("users", "name", false); ok {
		t.Error("no index expected for name")
	}
}

func TestRegistryDropIsCopyOnWrite(t *testing.T) {
	r := NewRegistry()
	r.Add(&Meta{Table: "t", Column: "c", Kind: KindBTree, Tree: NewTree(DefaultDegree)})

	before := r.ForTable("t")
	if err := r.Drop("t", "c", KindBTree); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}

	// A visão antiga permanece válida (copy-on-write)
	if len(before) != 1 {
		t.Error("old view mutated by Drop")
	}
	if _, ok := r.Lookup("t", "c", KindBTree); ok {
		t.Error("index still visible after Drop")
	}
	if err := r.Drop("t", "c", KindBTree); err == nil {
		t.Error("double drop should fail")
	}
}
