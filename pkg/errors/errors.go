package errors

import (
	"fmt"
)

// === Erros de entrada (recuperáveis, reportados ao chamador) ===

type UnknownRelationError struct {
	Name string
}

func (e *UnknownRelationError) Error() string {
	return fmt.Sprintf("unknown relation %q", e.Name)
}

type UnknownColumnError struct {
	Table  string
	Column string
}

func (e *UnknownColumnError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("unknown column %q in table %q", e.Column, e.Table)
	}
	return fmt.Sprintf("unknown column %q", e.Column)
}

type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}

type SyntaxError struct {
	Detail string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error: %s", e.Detail)
}

type ConstraintViolationError struct {
	Constraint string
	Key        string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation (%s): key %q", e.Constraint, e.Key)
}

type TableAlreadyExistsError struct {
	Name string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

type IndexNotFoundError struct {
	Table  string
	Column string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index on %q.%q not found", e.Table, e.Column)
}

// === Erros de concorrência (recuperáveis por retry) ===

type WriteConflictError struct {
	TxID uint64
	Key  string
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict: tx %d lost the race for key %q", e.TxID, e.Key)
}

type SerializationFailureError struct {
	TxID uint64
	Key  string
}

func (e *SerializationFailureError) Error() string {
	return fmt.Sprintf("serialization failure: tx %d read of %q was overwritten by a concurrent commit", e.TxID, e.Key)
}

type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out", e.Op)
}

type NotPrimaryError struct {
	NodeID uint64
	View   uint64
}

func (e *NotPrimaryError) Error() string {
	return fmt.Sprintf("node %d is not primary in view %d", e.NodeID, e.View)
}

type TxNotActiveError struct {
	TxID   uint64
	Status string
}

func (e *TxNotActiveError) Error() string {
	return fmt.Sprintf("tx %d is not active (status=%s)", e.TxID, e.Status)
}

// === Erros de recurso (recuperáveis por degradação) ===

type OutOfAcceleratorMemoryError struct {
	Requested int64
	Available int64
}

func (e *OutOfAcceleratorMemoryError) Error() string {
	return fmt.Sprintf("out of accelerator memory: requested %d bytes, %d available", e.Requested, e.Available)
}

type OutOfHostMemoryError struct {
	Requested int64
}

func (e *OutOfHostMemoryError) Error() string {
	return fmt.Sprintf("out of host memory: requested %d bytes", e.Requested)
}

// === Erros de integridade (fatais para a unidade afetada) ===

type WalCorruptionError struct {
	Segment  uint64
	Offset   int64
	LostFrom uint64 // primeiro LSN dentro da janela de perda (0 se desconhecido)
	Reason   string
}

func (e *WalCorruptionError) Error() string {
	return fmt.Sprintf("wal corruption in segment %d at offset %d (%s); log truncated, data loss window starts at LSN %d",
		e.Segment, e.Offset, e.Reason, e.LostFrom)
}

type BackupCorruptionError struct {
	File   string
	Reason string
}

func (e *BackupCorruptionError) Error() string {
	return fmt.Sprintf("backup corruption in %q: %s", e.File, e.Reason)
}

type StorageCorruptionError struct {
	Key    string
	Reason string
}

func (e *StorageCorruptionError) Error() string {
	return fmt.Sprintf("storage corruption at key %q: %s", e.Key, e.Reason)
}

// === Erros de protocolo (ignorados ou disparam view change) ===

type StaleViewError struct {
	Got     uint64
	Current uint64
}

func (e *StaleViewError) Error() string {
	return fmt.Sprintf("stale view %d (current view is %d)", e.Got, e.Current)
}

type DuplicateOpError struct {
	ClientID      string
	RequestNumber uint64
}

func (e *DuplicateOpError) Error() string {
	return fmt.Sprintf("duplicate op: client %s request %d already applied", e.ClientID, e.RequestNumber)
}

type UnknownPeerError struct {
	NodeID uint64
}

func (e *UnknownPeerError) Error() string {
	return fmt.Sprintf("unknown peer %d", e.NodeID)
}

type InvalidStateTransitionError struct {
	NodeID uint64
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid role transition %s -> %s on node %d", e.From, e.To, e.NodeID)
}
