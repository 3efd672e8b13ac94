package batch

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"
)

// sessionState is Session's Empty -> Filling -> Executing -> Empty state
// machine, spec.md §4.5.
type sessionState int

const (
	stateEmpty sessionState = iota
	stateFilling
	stateExecuting
)

func (s sessionState) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateFilling:
		return "filling"
	case stateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// Session is one batch execution session bound to a single prepared
// statement: the C5 component of spec.md §4.5, grounded on
// DsqlBatch/DsqlBatch::open/DsqlBatch::execute.
type Session struct {
	id     uuid.UUID
	logger Logger
	cfg    Config

	stmt Statement
	meta MessageMetadata
	scan *MetadataScan

	messages *DataCache
	blobs    *DataCache // nil when the statement has no BLOB/ARRAY fields

	blobIDs *BlobIDMap

	haveLastBlob         bool
	lastBlobClientID     BlobID
	lastBlobHeaderOffset uint32
	lastBlobPayloadLen   uint32

	// genIDHigh/genIDLow is the ENGINE-policy id generator: a 64-bit
	// counter (low word, carrying into high word on wraparound) handed
	// out as the client-visible blob id whenever BlobPolicy ==
	// BlobIDsEngine, per spec.md §3's genId. Reset by Cancel.
	genIDHigh uint32
	genIDLow  uint32

	executor Executor
	store    BlobStore
	translit Transliterator

	state      sessionState
	tupleCount int
}

// Open validates and creates a Session against stmt/meta, mirroring
// DsqlBatch::open's precondition gate (spec.md §4.5): no open cursor, no
// batch already active, the statement prepared/not orphaned/of a
// batchable type and carrying parameters, and a message length that fits
// within one RAM tier.
func Open(
	stmt Statement,
	meta MessageMetadata,
	cfg Config,
	executor Executor,
	store BlobStore,
	translit Transliterator,
	metaCache *MetaCache,
) (*Session, error) {
	switch {
	case stmt.CursorOpen():
		return nil, newErr(KindCursorAlreadyOpen, "cannot open a batch: an open cursor already exists for this statement", nil)
	case stmt.ActiveBatch():
		return nil, newErr(KindBatchAlreadyActive, "cannot open a batch: a batch is already active for this statement", nil)
	case !stmt.Prepared():
		return nil, newErr(KindUnpreparedStatement, "cannot open a batch: statement is not prepared", nil)
	case stmt.Orphaned():
		return nil, newErr(KindOrphanStatement, "cannot open a batch: statement is orphaned", nil)
	case !stmt.Type().batchable():
		return nil, newErr(KindWrongStatementType, "cannot open a batch: statement type does not support batch execution", nil)
	case stmt.ParameterCount() == 0:
		return nil, newErr(KindStatementWithoutParams, "cannot open a batch: statement has no parameters", nil)
	}

	if meta.MessageLength() > RAMBatch {
		return nil, newErrf(KindMessageTooLong, map[string]interface{}{
			"messageLength": meta.MessageLength(), "limit": uint32(RAMBatch),
		}, "message length %d exceeds the maximum of %d", meta.MessageLength(), RAMBatch)
	}

	var scan *MetadataScan
	if metaCache != nil {
		scan = metaCache.Scan(meta)
	} else {
		scan = scanMetadata(meta)
	}

	if cfg.BlobPolicy != BlobIDsNone && len(scan.BlobFields) == 0 {
		return nil, newErr(KindNoBlobsDeclared, "a blob id policy was requested but the statement declares no blob or array fields", nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}
	id := uuid.New()
	logger = logger.WithFields(String("sessionID", id.String()))

	s := &Session{
		id:       id,
		logger:   logger,
		cfg:      cfg,
		stmt:     stmt,
		meta:     meta,
		scan:     scan,
		messages: NewDataCache(uint32(cfg.BufferBytes), logger),
		blobIDs:  NewBlobIDMap(),
		executor: executor,
		store:    store,
		translit: translit,
		state:    stateEmpty,
	}
	if s.translit == nil {
		s.translit = IdentityTransliterator{}
	}
	if len(scan.BlobFields) > 0 {
		s.blobs = NewDataCache(uint32(cfg.BufferBytes), logger)
	}

	stmt.SetActiveBatch(true)
	logger.Info("batch session opened", Int("blobFields", len(scan.BlobFields)))
	return s, nil
}

// Add appends one fully-formed message tuple to the batch.
func (s *Session) Add(buf []byte) error {
	if s.state == stateExecuting {
		return newErr(KindBatchExecuting, "cannot add a message while the batch is executing", nil)
	}
	if uint32(len(buf)) != s.scan.MessageLength {
		return newErrf(KindWrongMessageLength, map[string]interface{}{
			"got": len(buf), "want": s.scan.MessageLength,
		}, "message length %d does not match the statement's message length %d", len(buf), s.scan.MessageLength)
	}

	if err := s.messages.Align(s.scan.Alignment); err != nil {
		return err
	}
	if err := s.messages.Put(buf); err != nil {
		return err
	}
	s.tupleCount++
	s.state = stateFilling
	return nil
}

// nextEngineBlobID hands out the next ENGINE-policy generated id: the low
// word increments, carrying into the high word on wraparound, per
// spec.md §3's genId.
func (s *Session) nextEngineBlobID() BlobID {
	s.genIDLow++
	if s.genIDLow == 0 {
		s.genIDHigh++
	}
	return BlobID{High: s.genIDHigh, Low: s.genIDLow}
}

// AddBlob begins a new framed BLOB under the ENGINE/USER blob id policies,
// sealing whatever BLOB preceded it. Under BlobIDsEngine, id is generated
// by the session (any clientID the caller passes is ignored) and returned
// so the caller can embed it in the message tuple; under BlobIDsUser, the
// caller's clientID is used as given. The returned id is the one that
// must end up embedded in the corresponding tuple field.
func (s *Session) AddBlob(clientID BlobID, data []byte) (BlobID, error) {
	if s.state == stateExecuting {
		return BlobID{}, newErr(KindBatchExecuting, "cannot add a blob while the batch is executing", nil)
	}
	if s.blobs == nil {
		return BlobID{}, newErr(KindNoBlobsDeclared, "cannot add a blob: statement declares no blob fields", nil)
	}
	if s.cfg.BlobPolicy == BlobIDsStream {
		return BlobID{}, newErr(KindPolicyMismatch, "cannot call AddBlob under the STREAM blob id policy; use AddBlobStream", nil)
	}

	if err := s.sealLastBlob(); err != nil {
		return BlobID{}, err
	}

	id := clientID
	if s.cfg.BlobPolicy == BlobIDsEngine {
		id = s.nextEngineBlobID()
	}

	header := make([]byte, SizeofBlobHead)
	binary.LittleEndian.PutUint32(header[0:4], id.High)
	binary.LittleEndian.PutUint32(header[4:8], id.Low)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(data)))

	offset := s.blobs.Size()
	if err := s.blobs.Put(header); err != nil {
		return BlobID{}, err
	}
	if err := s.blobs.Put(data); err != nil {
		return BlobID{}, err
	}

	s.haveLastBlob = true
	s.lastBlobClientID = id
	s.lastBlobHeaderOffset = offset
	s.lastBlobPayloadLen = uint32(len(data))
	s.state = stateFilling
	return id, nil
}

// AppendBlobData appends another segment of data to the most recently
// opened BLOB, back-patching its frame's length field.
func (s *Session) AppendBlobData(data []byte) error {
	if s.state == stateExecuting {
		return newErr(KindBatchExecuting, "cannot append blob data while the batch is executing", nil)
	}
	if !s.haveLastBlob {
		return newErr(KindNoLastBlob, "AppendBlobData called with no blob currently open", nil)
	}

	if err := s.blobs.Put(data); err != nil {
		return err
	}
	s.lastBlobPayloadLen += uint32(len(data))

	lenField := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenField, s.lastBlobPayloadLen)
	return s.blobs.Put3(lenField, s.lastBlobHeaderOffset+8)
}

// AddBlobStream appends a block of already-framed BLOB data under the
// STREAM policy; data must be a multiple of BlobStreamAlign.
func (s *Session) AddBlobStream(data []byte) error {
	if s.state == stateExecuting {
		return newErr(KindBatchExecuting, "cannot add a blob stream while the batch is executing", nil)
	}
	if s.blobs == nil {
		return newErr(KindNoBlobsDeclared, "cannot add a blob stream: statement declares no blob fields", nil)
	}
	if s.cfg.BlobPolicy != BlobIDsStream {
		return newErr(KindPolicyMismatch, "AddBlobStream requires the STREAM blob id policy", nil)
	}
	if len(data)%BlobStreamAlign != 0 {
		return newErrf(KindBadStreamAlignment, map[string]interface{}{
			"length": len(data), "align": BlobStreamAlign,
		}, "blob stream chunk length %d is not a multiple of %d", len(data), BlobStreamAlign)
	}

	if err := s.blobs.Put(data); err != nil {
		return err
	}
	s.state = stateFilling
	return nil
}

// RegisterBlob records a caller-assigned client id -> engine id mapping
// under the USER blob id policy.
func (s *Session) RegisterBlob(clientID, engineID BlobID) error {
	if s.cfg.BlobPolicy != BlobIDsUser {
		return newErr(KindPolicyMismatch, "RegisterBlob requires the USER blob id policy", nil)
	}
	return s.blobIDs.Insert(clientID, engineID)
}

func (s *Session) sealLastBlob() error {
	if !s.haveLastBlob {
		return nil
	}
	s.haveLastBlob = false
	return s.blobs.Align(BlobStreamAlign)
}

// Execute drains the accumulated blobs (if any), then the accumulated
// messages, sending one tuple at a time through executor and recording
// each row's outcome. Grounded on DsqlBatch::execute's two-phase
// blob-then-message drain.
func (s *Session) Execute(ctx context.Context, tx Transaction) (*CompletionState, error) {
	if s.state == stateExecuting {
		return nil, newErr(KindBatchExecuting, "batch is already executing", nil)
	}

	s.state = stateExecuting
	completion := NewCompletionState(s.cfg.DetailLimit, s.cfg.RecordCounts)

	if err := s.sealLastBlob(); err != nil {
		return nil, s.abort(ctx, err)
	}

	if s.blobs != nil {
		if _, err := s.blobs.Done(); err != nil {
			return nil, s.abort(ctx, err)
		}
		if err := drainBlobStream(ctx, s.blobs, s.store, tx, s.blobIDs); err != nil {
			return nil, s.abort(ctx, err)
		}
	}

	if _, err := s.messages.Done(); err != nil {
		return nil, s.abort(ctx, err)
	}

	if err := s.executor.Start(ctx, tx); err != nil {
		return nil, s.abort(ctx, wrapErr(KindInternal, "failed to start statement execution", err, nil))
	}

	msgNum := 0
	alignment := int(s.scan.Alignment)
	if alignment == 0 {
		alignment = 1
	}
	messageLen := int(s.scan.MessageLength)

	for {
		window, err := s.messages.Get()
		if err != nil {
			return completion, s.abort(ctx, err)
		}
		if len(window) == 0 {
			break
		}
		if len(window) < messageLen {
			return completion, s.abort(ctx, newErrf(KindMessageLeftover, map[string]interface{}{
				"leftover": len(window), "messageLength": messageLen,
			}, "internal error: useless data remained in batch buffer"))
		}

		pos := 0
		remains := len(window)

		for remains >= messageLen {
			pad := alignPad(pos, alignment)
			if pad != 0 {
				pos += pad
				remains -= pad
				continue
			}

			tuple := window[pos : pos+messageLen]
			translated, terr := translateBlobIDs(tuple, s.scan, s.blobIDs)
			if terr != nil {
				// An unknown blob id is a per-row failure (spec.md §4.5
				// step 3/4): no Send was attempted, so the executor's
				// prepared-statement cycle needs no restart - just
				// record the row and, under single-error policy, stop.
				msgNum++
				completion.AddError(s.translit.Transliterate(terr))
				if !s.cfg.MultiError {
					s.resetAfterExecute()
					return completion, nil
				}
				pos += messageLen
				remains -= messageLen
				continue
			}

			rows, sendErr := s.executor.Send(ctx, msgNum, translated)
			msgNum++

			if sendErr != nil {
				sendErr = s.translit.Transliterate(sendErr)
				completion.AddError(sendErr)

				if !s.cfg.MultiError {
					s.resetAfterExecute()
					return completion, nil
				}

				if err := s.executor.Unwind(ctx); err != nil {
					return completion, s.abort(ctx, wrapErr(KindInternal, "failed to unwind after a row error", err, nil))
				}
				if err := s.executor.Start(ctx, tx); err != nil {
					return completion, s.abort(ctx, wrapErr(KindInternal, "failed to restart statement after a row error", err, nil))
				}
			} else {
				completion.AddSuccess(rows)
			}

			pos += messageLen
			remains -= messageLen
		}

		pad := alignPad(pos, alignment)
		s.messages.Remained(uint32(remains), uint32(pad))
	}

	_ = s.executor.Unwind(ctx)
	s.resetAfterExecute()
	return completion, nil
}

// alignPad returns how many bytes pos must advance to reach the next
// multiple of alignment, 0 if already aligned.
func alignPad(pos, alignment int) int {
	if alignment <= 1 {
		return 0
	}
	rem := pos % alignment
	if rem == 0 {
		return 0
	}
	return alignment - rem
}

// translateBlobIDs returns a copy of tuple with every non-null BLOB/ARRAY
// field's client id replaced by its registered engine id.
func translateBlobIDs(tuple []byte, scan *MetadataScan, ids *BlobIDMap) ([]byte, error) {
	if len(scan.BlobFields) == 0 {
		return tuple, nil
	}

	out := make([]byte, len(tuple))
	copy(out, tuple)

	for _, f := range scan.BlobFields {
		if f.NullOffset+2 <= uint32(len(out)) {
			if binary.LittleEndian.Uint16(out[f.NullOffset:f.NullOffset+2]) != 0 {
				continue // null, nothing to translate
			}
		}
		if f.Offset+8 > uint32(len(out)) {
			return nil, newInternalf("blob field %d offset %d exceeds tuple length %d", f.Index, f.Offset, len(out))
		}

		clientID := BlobID{
			High: binary.LittleEndian.Uint32(out[f.Offset : f.Offset+4]),
			Low:  binary.LittleEndian.Uint32(out[f.Offset+4 : f.Offset+8]),
		}
		if clientID.IsZero() {
			continue
		}

		engineID, err := ids.Remove(clientID)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(out[f.Offset:f.Offset+4], engineID.High)
		binary.LittleEndian.PutUint32(out[f.Offset+4:f.Offset+8], engineID.Low)
	}

	return out, nil
}

// abort unwinds the executor and clears the session back to Empty after
// a hard (non-row) failure.
func (s *Session) abort(ctx context.Context, err error) error {
	_ = s.executor.Unwind(ctx)
	s.resetAfterExecute()
	return err
}

func (s *Session) resetAfterExecute() {
	_ = s.messages.Clear()
	if s.blobs != nil {
		_ = s.blobs.Clear()
	}
	s.blobIDs.Clear()
	s.haveLastBlob = false
	s.tupleCount = 0
	s.state = stateEmpty
}

// Cancel discards all buffered state and returns the session to Empty;
// valid from any state, matching DsqlBatch::cancel.
func (s *Session) Cancel(ctx context.Context) error {
	if s.state == stateExecuting {
		_ = s.executor.Unwind(ctx)
	}
	s.resetAfterExecute()
	s.genIDHigh = 0
	s.genIDLow = 0
	s.stmt.SetActiveBatch(false)
	s.logger.Info("batch session cancelled")
	return nil
}

// State exposes the current lifecycle state for tests/diagnostics.
func (s *Session) State() string { return s.state.String() }

// TupleCount returns how many messages have been added since the last
// Execute or Cancel.
func (s *Session) TupleCount() int { return s.tupleCount }
