package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&UnknownRelationError{Name: "users"}, `unknown relation "users"`},
		{&WriteConflictError{TxID: 7, Key: "k"}, `write conflict`},
		{&NotPrimaryError{NodeID: 2, View: 5}, "not primary in view 5"},
		{&InvalidStateTransitionError{NodeID: 1, From: "PRIMARY", To: "BACKUP"}, "PRIMARY -> BACKUP"},
		{&WalCorruptionError{Segment: 3, Offset: 128, Reason: "crc mismatch"}, "crc mismatch"},
	}

	for _, c := range cases {
		if !strings.Contains(c.err.Error(), c.want) {
			t.Errorf("%T: message %q does not contain %q", c.err, c.err.Error(), c.want)
		}
	}
}

func TestErrorsAsTargets(t *testing.T) {
	var wrapped error = wrap(&SerializationFailureError{TxID: 1, Key: "a"})

	var target *SerializationFailureError
	if !stderrors.As(wrapped, &target) {
		t.Fatal("errors.As failed to unwrap SerializationFailureError")
	}
	if target.TxID != 1 {
		t.Errorf("unwrapped TxID = %d, want 1", target.TxID)
	}
}

func wrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ inner error }

func (w *wrapper) Error() string { return "ctx: " + w.inner.Error() }
func (w *wrapper) Unwrap() error { return w.inner }
