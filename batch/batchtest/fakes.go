// Package batchtest provides fluent, in-memory fakes for batch.Session's
// external collaborators (Statement, MessageMetadata, Executor,
// BlobStore, Transliterator), grounded on testutil.MockClient's
// expectation/call-recording style.
package batchtest

import (
	"context"
	"sync"

	"github.com/syndrdb/syndrdb-go/batch"
)

// FieldSpec describes one field of a FakeMessageMetadata tuple.
type FieldSpec struct {
	Type       int
	Offset     uint32
	NullOffset uint32
}

// FakeMessageMetadata is a fixed-layout batch.MessageMetadata for tests.
type FakeMessageMetadata struct {
	Msg    uint32
	Stride uint32
	Align  uint32
	Fields []FieldSpec
}

func (m *FakeMessageMetadata) MessageLength() uint32 { return m.Msg }
func (m *FakeMessageMetadata) AlignedLength() uint32 { return m.Stride }
func (m *FakeMessageMetadata) Alignment() uint32     { return m.Align }
func (m *FakeMessageMetadata) Count() int            { return len(m.Fields) }
func (m *FakeMessageMetadata) Type(i int) int        { return m.Fields[i].Type }
func (m *FakeMessageMetadata) Offset(i int) uint32   { return m.Fields[i].Offset }
func (m *FakeMessageMetadata) NullOffset(i int) uint32 {
	return m.Fields[i].NullOffset
}

// FakeStatement is a batch.Statement with plain fields, no locking since
// it is only ever touched from one goroutine in a test.
type FakeStatement struct {
	Cursor    bool
	Batch     bool
	IsPrepped bool
	IsOrphan  bool
	StmtType  batch.StatementType
	ParamsN   int
}

func NewFakeStatement() *FakeStatement {
	return &FakeStatement{
		IsPrepped: true,
		StmtType:  batch.StatementInsert,
		ParamsN:   1,
	}
}

func (s *FakeStatement) CursorOpen() bool           { return s.Cursor }
func (s *FakeStatement) ActiveBatch() bool          { return s.Batch }
func (s *FakeStatement) SetActiveBatch(active bool) { s.Batch = active }
func (s *FakeStatement) Prepared() bool             { return s.IsPrepped }
func (s *FakeStatement) Orphaned() bool             { return s.IsOrphan }
func (s *FakeStatement) Type() batch.StatementType  { return s.StmtType }
func (s *FakeStatement) ParameterCount() int        { return s.ParamsN }

// SentMessage records one call to FakeExecutor.Send.
type SentMessage struct {
	MsgNum int
	Buf    []byte
}

// FakeExecutor is a scriptable batch.Executor: RowErrors maps a 0-based
// send index to the error Send should return for that row, letting tests
// script a specific row failing without needing a live engine.
type FakeExecutor struct {
	mu sync.Mutex

	RowErrors  map[int]error
	RowsPerMsg int64
	StartErr   error
	UnwindErr  error

	Starts  int
	Unwinds int
	Sent    []SentMessage
}

func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{RowErrors: make(map[int]error), RowsPerMsg: 1}
}

func (e *FakeExecutor) Unwind(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Unwinds++
	return e.UnwindErr
}

func (e *FakeExecutor) Start(ctx context.Context, tx batch.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Starts++
	return e.StartErr
}

func (e *FakeExecutor) Send(ctx context.Context, msgNum int, buf []byte) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	e.Sent = append(e.Sent, SentMessage{MsgNum: msgNum, Buf: cp})

	if err, ok := e.RowErrors[len(e.Sent)-1]; ok {
		return 0, err
	}
	return e.RowsPerMsg, nil
}

// FakeBlobHandle is an in-memory batch.BlobHandle.
type FakeBlobHandle struct {
	id        batch.BlobID
	store     *FakeBlobStore
	segments  [][]byte
	cancelled bool
	closed    bool
}

func (h *FakeBlobHandle) EngineID() batch.BlobID { return h.id }

func (h *FakeBlobHandle) PutSegment(ctx context.Context, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	h.segments = append(h.segments, cp)
	return nil
}

func (h *FakeBlobHandle) Close(ctx context.Context) error {
	h.closed = true
	h.store.recordClosed(h)
	return nil
}

func (h *FakeBlobHandle) Cancel(ctx context.Context) error {
	h.cancelled = true
	return nil
}

// FakeBlobStore is an in-memory batch.BlobStore, assigning sequential
// engine ids (1,2,3,...) and recording every closed BLOB's payload for
// assertions.
type FakeBlobStore struct {
	mu      sync.Mutex
	next    uint32
	Closed  []*FakeBlobHandle
	CreateErr error
}

func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{}
}

func (s *FakeBlobStore) Create(ctx context.Context, tx batch.Transaction) (batch.BlobHandle, error) {
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	s.mu.Lock()
	s.next++
	id := batch.BlobID{High: 0, Low: s.next}
	s.mu.Unlock()
	return &FakeBlobHandle{id: id, store: s}, nil
}

func (s *FakeBlobStore) recordClosed(h *FakeBlobHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = append(s.Closed, h)
}

// Payload concatenates the segments written to a closed FakeBlobHandle.
func (h *FakeBlobHandle) Payload() []byte {
	var out []byte
	for _, seg := range h.segments {
		out = append(out, seg...)
	}
	return out
}

// FakeTransliterator returns a fixed error (or the input unchanged) so
// tests can assert Session calls it exactly once per row error.
type FakeTransliterator struct {
	Calls int
	Err   error
}

func (t *FakeTransliterator) Transliterate(err error) error {
	t.Calls++
	if t.Err != nil {
		return t.Err
	}
	return err
}
