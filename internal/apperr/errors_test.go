package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestTaxonomyMatchesSentinels(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		err      error
		sentinel error
	}{
		{&TransportError{Op: "dial", Err: cause}, ErrTransport},
		{&PersistenceError{DocumentID: "f1", Err: cause}, ErrPersistence},
		{&ReconciliationConflict{DocumentID: "f1", Reason: "missing"}, ErrReconciliation},
		{&MalformedDelta{DocumentID: "f1", Err: cause}, ErrMalformedDelta},
	}
	for _, c := range cases {
		wrapped := fmt.Errorf("outer: %w", c.err)
		if !errors.Is(wrapped, c.sentinel) {
			t.Errorf("%T should match %v", c.err, c.sentinel)
		}
	}
}

func TestUnwrapReachesCause(t *testing.T) {
	err := &PersistenceError{DocumentID: "f1", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) {
		t.Error("persistence error should unwrap to its cause")
	}
}
