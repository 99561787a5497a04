package wal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
)

func testOptions(dir string) Options {
	opts := DefaultOptions()
	opts.DirPath = dir
	opts.SyncPolicy = SyncEveryWrite
	return opts
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWALWriter(testOptions(dir), nil)
	if err != nil {
		t.Fatalf("NewWALWriter failed: %v", err)
	}

	begin := &BeginRecord{TxID: 1, SnapshotTS: 0}
	if err := w.Append(RecordBegin, 1, begin.Encode(nil)); err != nil {
		t.Fatalf("Append begin failed: %v", err)
	}
	write := &WriteRecord{TxID: 1, Key: []byte("k"), Value: []byte("v")}
	if err := w.Append(RecordWrite, 2, write.Encode(nil)); err != nil {
		t.Fatalf("Append write failed: %v", err)
	}
	commit := &CommitRecord{TxID: 1, CommitTS: 1}
	if err := w.Append(RecordCommit, 3, commit.Encode(nil)); err != nil {
		t.Fatalf("Append commit failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewWALReader(dir)
	if err != nil {
		t.Fatalf("NewWALReader failed: %v", err)
	}
	defer r.Close()

	var kinds []uint8
	var lsns []uint64
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadRecord failed: %v", err)
		}
		kinds = append(kinds, rec.Kind)
		lsns = append(lsns, rec.LSN)
	}

	wantKinds := []uint8{RecordBegin, RecordWrite, RecordCommit}
	if len(kinds) != 3 {
		t.Fatalf("read %d records, want 3", len(kinds))
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Errorf("record %d kind = %d, want %d", i, kinds[i], wantKinds[i])
		}
	}
	// LSNs monotônicos
	for i := 1; i < len(lsns); i++ {
		if lsns[i] <= lsns[i-1] {
			t.Errorf("LSN not monotonic: %v", lsns)
		}
	}
}

func TestWriterRotation(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.SegmentSizeLimit = 256 // Força rotação rápida

	w, err := NewWALWriter(opts, nil)
	if err != nil {
		t.Fatalf("NewWALWriter failed: %v", err)
	}

	payload := make([]byte, 100)
	for i := uint64(1); i <= 10; i++ {
		if err := w.Append(RecordWrite, i, payload); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	if w.ActiveSegment() < 2 {
		t.Errorf("expected rotation, active segment = %d", w.ActiveSegment())
	}
	w.Close()

	// O reader atravessa os segmentos de forma transparente
	r, err := NewWALReader(dir)
	if err != nil {
		t.Fatalf("NewWALReader failed: %v", err)
	}
	defer r.Close()

	count := 0
	var lastLSN uint64
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadRecord failed: %v", err)
		}
		count++
		lastLSN = rec.LSN
	}
	if count != 10 {
		t.Errorf("read %d records across segments, want 10", count)
	}
	if lastLSN != 10 {
		t.Errorf("last LSN = %d, want 10", lastLSN)
	}
}

func TestReaderDetectsCorruptionAndTruncates(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWALWriter(testOptions(dir), nil)
	if err != nil {
		t.Fatalf("NewWALWriter failed: %v", err)
	}
	for i := uint64(1); i <= 3; i++ {
		rec := &WriteRecord{TxID: i, Key: []byte("k"), Value: []byte("v")}
		if err := w.Append(RecordWrite, i, rec.Encode(nil)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	w.Close()

	// Corrompe um byte do payload do terceiro registro
	path := filepath.Join(dir, SegmentName(1))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	recordSize := len(data) / 3
	data[2*recordSize+FrameHeaderSize] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	r, err := NewWALReader(dir)
	if err != nil {
		t.Fatalf("NewWALReader failed: %v", err)
	}

	var corruption *engerrors.WalCorruptionError
	good := 0
	for {
		_, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !errors.As(err, &corruption) {
				t.Fatalf("unexpected error type: %v", err)
			}
			break
		}
		good++
	}
	r.Close()

	if corruption == nil {
		t.Fatal("expected corruption error")
	}
	if good != 2 {
		t.Errorf("read %d good records before corruption, want 2", good)
	}

	// Truncar no registro ofensor descarta ele e tudo depois
	if err := TruncateAt(dir, corruption.Segment, corruption.Offset); err != nil {
		t.Fatalf("TruncateAt failed: %v", err)
	}

	r2, _ := NewWALReader(dir)
	defer r2.Close()
	count := 0
	for {
		_, err := r2.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadRecord after truncate failed: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Errorf("after truncation read %d records, want 2", count)
	}
}

func TestReaderDetectsCorruptedLSN(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWALWriter(testOptions(dir), nil)
	rec := &WriteRecord{TxID: 1, Key: []byte("k"), Value: []byte("v")}
	w.Append(RecordWrite, 7, rec.Encode(nil))
	w.Close()

	// Flip em um byte do LSN dentro do header: o CRC cobre o header
	path := filepath.Join(dir, SegmentName(1))
	data, _ := os.ReadFile(path)
	data[6] ^= 0xFF
	os.WriteFile(path, data, 0644)

	r, _ := NewWALReader(dir)
	defer r.Close()
	_, err := r.ReadRecord()
	var corruption *engerrors.WalCorruptionError
	if !errors.As(err, &corruption) {
		t.Fatalf("expected corruption for flipped LSN, got %v", err)
	}
}

func TestWriterReopensLastSegment(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWALWriter(testOptions(dir), nil)
	w.Append(RecordBegin, 1, (&BeginRecord{TxID: 1}).Encode(nil))
	w.Close()

	w2, err := NewWALWriter(testOptions(dir), nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer w2.Close()
	if w2.ActiveSegment() != 1 {
		t.Errorf("reopened segment = %d, want 1", w2.ActiveSegment())
	}
	if err := w2.Append(RecordAbort, 2, (&AbortRecord{TxID: 1}).Encode(nil)); err != nil {
		t.Fatalf("append after reopen failed: %v", err)
	}
}
