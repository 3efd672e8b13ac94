package batch

import (
	"errors"
	"testing"
)

func TestCompletionStateTracksSuccessAndError(t *testing.T) {
	cs := NewCompletionState(10, true)
	cs.AddSuccess(3)
	cs.AddError(errors.New("boom"))
	cs.AddSuccess(1)

	if cs.Len() != 3 {
		t.Fatalf("Len = %d, want 3", cs.Len())
	}
	if cs.SuccessCount() != 2 || cs.ErrorCount() != 1 {
		t.Fatalf("success=%d error=%d, want 2/1", cs.SuccessCount(), cs.ErrorCount())
	}
	if cs.At(0).RowsAffected != 3 {
		t.Fatalf("row 0 RowsAffected = %d, want 3", cs.At(0).RowsAffected)
	}
	if cs.At(1).OK {
		t.Fatalf("row 1 should be an error outcome")
	}
}

func TestCompletionStateDetailCap(t *testing.T) {
	cs := NewCompletionState(2, false)
	for i := 0; i < 5; i++ {
		cs.AddError(errors.New("row error"))
	}

	if cs.ErrorCount() != 5 {
		t.Fatalf("ErrorCount = %d, want 5", cs.ErrorCount())
	}

	detailed := 0
	truncated := 0
	for _, o := range cs.All() {
		if o.Truncated {
			truncated++
		} else if o.Err != nil {
			detailed++
		}
	}
	if detailed != 2 {
		t.Fatalf("detailed errors = %d, want 2", detailed)
	}
	if truncated != 3 {
		t.Fatalf("truncated errors = %d, want 3", truncated)
	}
}

func TestCompletionStateWithoutRecordCountsOmitsRowCounts(t *testing.T) {
	cs := NewCompletionState(10, false)
	cs.AddSuccess(99)
	if cs.At(0).RowsAffected != 0 {
		t.Fatalf("expected RowsAffected to stay 0 when RecordCounts is off, got %d", cs.At(0).RowsAffected)
	}
}
