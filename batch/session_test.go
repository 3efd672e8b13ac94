package batch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/syndrdb/syndrdb-go/batch"
	"github.com/syndrdb/syndrdb-go/batch/batchtest"
)

func plainMeta() *batchtest.FakeMessageMetadata {
	return &batchtest.FakeMessageMetadata{Msg: 4, Stride: 4, Align: 4}
}

func TestSessionOpenRejectsCursorOpen(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	stmt.Cursor = true
	_, err := batch.Open(stmt, plainMeta(), batch.DefaultConfig(), batchtest.NewFakeExecutor(), nil, nil, nil)
	if err == nil {
		t.Fatalf("expected an error when a cursor is already open")
	}
}

func TestSessionOpenRejectsStatementWithoutParams(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	stmt.ParamsN = 0
	_, err := batch.Open(stmt, plainMeta(), batch.DefaultConfig(), batchtest.NewFakeExecutor(), nil, nil, nil)
	if err == nil {
		t.Fatalf("expected an error for a statement without parameters")
	}
}

func TestSessionOpenRejectsNonBatchableType(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	stmt.StmtType = batch.StatementSelect
	_, err := batch.Open(stmt, plainMeta(), batch.DefaultConfig(), batchtest.NewFakeExecutor(), nil, nil, nil)
	if err == nil {
		t.Fatalf("expected an error for a non-batchable statement type")
	}
}

func TestSessionAddExecuteHappyPath(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	exec := batchtest.NewFakeExecutor()
	cfg := batch.DefaultConfig()
	cfg.RecordCounts = true

	s, err := batch.Open(stmt, plainMeta(), cfg, exec, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.State() != "empty" {
		t.Fatalf("new session state = %s, want empty", s.State())
	}

	for i := 0; i < 3; i++ {
		if err := s.Add([]byte{byte(i), 0, 0, 0}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if s.State() != "filling" {
		t.Fatalf("state after Add = %s, want filling", s.State())
	}

	completion, err := s.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if completion.SuccessCount() != 3 {
		t.Fatalf("SuccessCount = %d, want 3", completion.SuccessCount())
	}
	if s.State() != "empty" {
		t.Fatalf("state after Execute = %s, want empty", s.State())
	}
	if exec.Starts != 1 || exec.Unwinds != 1 {
		t.Fatalf("Starts=%d Unwinds=%d, want 1/1", exec.Starts, exec.Unwinds)
	}
}

func TestSessionFailFastStopsAtFirstError(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	exec := batchtest.NewFakeExecutor()
	exec.RowErrors[1] = errors.New("row 1 failed")

	s, err := batch.Open(stmt, plainMeta(), batch.DefaultConfig(), exec, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 4; i++ {
		_ = s.Add([]byte{byte(i), 0, 0, 0})
	}

	completion, err := s.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if completion.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (stop after the failing row)", completion.Len())
	}
	if len(exec.Sent) != 2 {
		t.Fatalf("expected exactly 2 sends before stopping, got %d", len(exec.Sent))
	}
}

func TestSessionMultiErrorContinuesPastFailures(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	exec := batchtest.NewFakeExecutor()
	exec.RowErrors[1] = errors.New("row 1 failed")
	exec.RowErrors[3] = errors.New("row 3 failed")

	cfg := batch.DefaultConfig()
	cfg.MultiError = true

	s, err := batch.Open(stmt, plainMeta(), cfg, exec, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 4; i++ {
		_ = s.Add([]byte{byte(i), 0, 0, 0})
	}

	completion, err := s.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if completion.Len() != 4 {
		t.Fatalf("Len = %d, want 4 (all rows attempted)", completion.Len())
	}
	if completion.ErrorCount() != 2 {
		t.Fatalf("ErrorCount = %d, want 2", completion.ErrorCount())
	}
	if len(exec.Sent) != 4 {
		t.Fatalf("expected all 4 rows to be sent, got %d", len(exec.Sent))
	}
}

func TestSessionTransliteratorInvokedOnRowError(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	exec := batchtest.NewFakeExecutor()
	exec.RowErrors[0] = errors.New("boom")
	translit := &batchtest.FakeTransliterator{}

	s, err := batch.Open(stmt, plainMeta(), batch.DefaultConfig(), exec, nil, translit, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Add([]byte{1, 0, 0, 0})

	if _, err := s.Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if translit.Calls != 1 {
		t.Fatalf("Transliterate called %d times, want 1", translit.Calls)
	}
}

func TestSessionCancelResetsFromAnyState(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	exec := batchtest.NewFakeExecutor()

	s, err := batch.Open(stmt, plainMeta(), batch.DefaultConfig(), exec, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Add([]byte{1, 0, 0, 0})

	if err := s.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if s.State() != "empty" {
		t.Fatalf("state after Cancel = %s, want empty", s.State())
	}
	if stmt.ActiveBatch() {
		t.Fatalf("expected Cancel to clear the statement's active-batch flag")
	}
}

func TestSessionDetailCapTruncatesPastLimit(t *testing.T) {
	stmt := batchtest.NewFakeStatement()
	exec := batchtest.NewFakeExecutor()
	for i := 0; i < 5; i++ {
		exec.RowErrors[i] = errors.New("row error")
	}

	cfg := batch.DefaultConfig()
	cfg.MultiError = true
	cfg.DetailLimit = 2

	s, err := batch.Open(stmt, plainMeta(), cfg, exec, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = s.Add([]byte{byte(i), 0, 0, 0})
	}

	completion, err := s.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	detailed, truncated := 0, 0
	for _, o := range completion.All() {
		if o.Truncated {
			truncated++
		} else if o.Err != nil {
			detailed++
		}
	}
	if detailed != 2 || truncated != 3 {
		t.Fatalf("detailed=%d truncated=%d, want 2/3", detailed, truncated)
	}
}
