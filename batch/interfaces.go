package batch

import "context"

// BlobID is the client- or engine-visible identity of a BLOB: an opaque
// 64-bit pair, matching spec.md §3's "opaque 64-bit pair" and the
// reference implementation's ISC_QUAD (high/low 32-bit words).
type BlobID struct {
	High uint32
	Low  uint32
}

// IsZero reports whether id is the zero value, used as the map/registry
// "absent" sentinel.
func (id BlobID) IsZero() bool { return id.High == 0 && id.Low == 0 }

// Field type codes a MessageMetadata.Type result may return. Only the
// BLOB/ARRAY cases are meaningful to this package; every other value is
// treated as an ordinary fixed-layout field.
const (
	TypeBlob  = 520
	TypeArray = 540
)

// MessageMetadata describes the fixed layout of one parameter tuple, as
// produced by the statement compiler/plan (out of scope here per spec.md
// §1). Implementations are expected to be immutable for the lifetime of a
// Session.
type MessageMetadata interface {
	// MessageLength is the unaligned tuple size M.
	MessageLength() uint32
	// AlignedLength is the aligned stride A, A % Alignment() == 0 and
	// A >= MessageLength().
	AlignedLength() uint32
	// Alignment is the required alignment alpha, alpha <= 8.
	Alignment() uint32
	// Count is the number of fields in the tuple.
	Count() int
	// Type returns the field type code of field i.
	Type(i int) int
	// Offset returns the byte offset of field i's value within a tuple.
	Offset(i int) uint32
	// NullOffset returns the byte offset of field i's 16-bit null
	// indicator within a tuple.
	NullOffset(i int) uint32
}

// Transaction is the opaque transaction handle spec.md §1 treats as an
// external collaborator; Session never interprets it, only threads it
// through to Executor.Start and BlobStore.Create.
type Transaction interface{}

// Executor is the prepared-statement execution collaborator: unwind and
// restart the statement, then send one message buffer per tuple. Send
// returns the delta of inserted+updated+deleted rows caused by this one
// send, for CompletionState's optional record counts.
type Executor interface {
	Unwind(ctx context.Context) error
	Start(ctx context.Context, tx Transaction) error
	Send(ctx context.Context, msgNum int, buf []byte) (rowsAffected int64, err error)
}

// BlobHandle is one open engine BLOB, as created by BlobStore.Create.
type BlobHandle interface {
	// EngineID is the engine-assigned identity of this BLOB.
	EngineID() BlobID
	// PutSegment appends one segment of BLOB data.
	PutSegment(ctx context.Context, data []byte) error
	// Close finalizes the BLOB after all segments are written.
	Close(ctx context.Context) error
	// Cancel discards a partially written BLOB.
	Cancel(ctx context.Context) error
}

// BlobStore is the large-object storage engine collaborator, consumed
// only through its create/put_segment/close/cancel contract per spec.md
// §1.
type BlobStore interface {
	Create(ctx context.Context, tx Transaction) (BlobHandle, error)
}

// Transliterator adapts a row-execution error to its storable form
// (spec.md §1's "character-set transliteration callback"), e.g.
// converting an engine status vector's text to the connection charset.
// Session calls it once per row error before handing the result to
// CompletionState.
type Transliterator interface {
	Transliterate(err error) error
}

// IdentityTransliterator returns err unchanged; the default used when a
// Session is opened without an explicit Transliterator.
type IdentityTransliterator struct{}

func (IdentityTransliterator) Transliterate(err error) error { return err }

// StatementType gates which statements a batch may be opened against,
// per spec.md §4.5.
type StatementType int

const (
	StatementSelect StatementType = iota
	StatementInsert
	StatementUpdate
	StatementDelete
	StatementExecProcedure
	StatementExecBlock
	StatementOther
)

// batchable reports whether a statement type may carry a batch, per
// spec.md §4.5's open() gate.
func (t StatementType) batchable() bool {
	switch t {
	case StatementInsert, StatementUpdate, StatementDelete, StatementExecProcedure, StatementExecBlock:
		return true
	default:
		return false
	}
}

// Statement is the minimal view of a prepared statement Session.Open
// needs to enforce spec.md §4.5's preconditions: no open cursor, no
// already-active batch, statement prepared and not orphaned, of a
// batchable type, and carrying parameters. It is the engine-side
// counterpart of the original's dsql_req fields (req_cursor, req_batch,
// req_request, statement->getType()/getFlags()).
type Statement interface {
	CursorOpen() bool
	ActiveBatch() bool
	SetActiveBatch(active bool)
	Prepared() bool
	Orphaned() bool
	Type() StatementType
	ParameterCount() int
}
