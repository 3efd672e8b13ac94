package batch

import "encoding/binary"

// Tunables from spec.md §3/§6. These mirror the reference implementation's
// compile-time constants; DsqlBatch.h itself was not part of the retrieved
// source, so the concrete numbers below are this repository's own choice
// of reasonable defaults rather than a transcription.
const (
	// RAMBatch is the RAM-tier capacity of a DataCache, and the maximum
	// message length a Session will accept at construction.
	RAMBatch = 64 * 1024

	// DetailedLimitDefault is the default per-row error detail cap;
	// DetailedLimitMax (4x) is the hard ceiling the parameter block
	// clamps DETAILED_ERRORS to.
	DetailedLimitDefault = 64
	DetailedLimitMax     = DetailedLimitDefault * 4

	// BufferLimitDefault is the default per-DataCache logical size cap;
	// BufferLimitMax (4x) is the hard ceiling BUFFER_BYTES_SIZE clamps to.
	BufferLimitDefault = 10 * 1024 * 1024
	BufferLimitMax     = BufferLimitDefault * 4

	// BlobStreamAlign is the alignment every BLOB frame header is padded
	// to, and the required granularity of AddBlobStream's length.
	BlobStreamAlign = 8

	// SizeofBlobHead is the size of a BLOB frame header: an 8-byte
	// client BlobID followed by a 4-byte little-endian length.
	SizeofBlobHead = 12
)

// BlobPolicy selects who assigns client-visible BLOB identities and
// whether BLOBs arrive framed individually (AddBlob/AppendBlobData) or as
// a raw pre-framed stream (AddBlobStream). See spec.md §4.5.
type BlobPolicy int

const (
	BlobIDsNone BlobPolicy = iota
	BlobIDsEngine
	BlobIDsUser
	BlobIDsStream
)

func (p BlobPolicy) String() string {
	switch p {
	case BlobIDsNone:
		return "NONE"
	case BlobIDsEngine:
		return "ENGINE"
	case BlobIDsUser:
		return "USER"
	case BlobIDsStream:
		return "STREAM"
	default:
		return "UNKNOWN"
	}
}

// Parameter block tags, spec.md §6.
const (
	TagMultiError      byte = 1
	TagRecordCounts    byte = 2
	TagBlobIDs         byte = 3
	TagDetailedErrors  byte = 4
	TagBufferBytesSize byte = 5
)

// ParamBlockVersion1 is the only accepted tag at parameter-block offset 0.
const ParamBlockVersion1 byte = 1

// Config holds the per-session configuration parsed from a tagged
// parameter block, matching client.ClientOptions's "plain struct with
// documented defaults" shape.
type Config struct {
	// MultiError: stop at the first row error (false) vs. continue and
	// collect every row's outcome (true).
	MultiError bool

	// RecordCounts records each row's affected-row count in the
	// CompletionState.
	RecordCounts bool

	// DetailLimit caps how many row errors retain full status detail;
	// beyond this, only a truncated tag is kept. parseParamBlock clamps a
	// DETAILED_ERRORS value to [0, DetailedLimitMax]; Open uses the field
	// as given.
	DetailLimit int

	// BufferBytes caps the logical size of each DataCache (messages and,
	// if the statement has BLOB fields, blobs). parseParamBlock clamps a
	// BUFFER_BYTES_SIZE value to [BufferLimitDefault, BufferLimitMax];
	// Open uses the field as given.
	BufferBytes int

	// BlobPolicy selects the BLOB identity policy for this session.
	BlobPolicy BlobPolicy

	// Logger receives lifecycle and diagnostic events. Defaults to a
	// no-op logger when left nil.
	Logger Logger

	// DebugMode is carried for callers that choose the error rendering;
	// Session does not read it. Verbose rendering (stack traces, full
	// detail maps) is selected by passing debugMode to FormatError.
	DebugMode bool
}

// DefaultConfig returns the spec's defaults: single-error, no record
// counts, default detail cap and buffer size, no BLOB policy.
func DefaultConfig() Config {
	return Config{
		MultiError:   false,
		RecordCounts: false,
		DetailLimit:  DetailedLimitDefault,
		BufferBytes:  BufferLimitDefault,
		BlobPolicy:   BlobIDsNone,
		Logger:       NopLogger(),
		DebugMode:    false,
	}
}

// parseParamBlock decodes a tagged parameter block per spec.md §6: byte 0
// must be ParamBlockVersion1, followed by tag/int32-payload pairs. Unknown
// tags are ignored. Returns a *BatchError with Kind KindInvalidParamVersion
// if the version tag is wrong; an empty block decodes to DefaultConfig().
//
// The format is a bespoke length-implicit clumplet stream private to this
// protocol (one version byte, then repeating [tag byte][4-byte little
// endian int] records) - there is no general-purpose encoding library in
// this repository's dependency set suited to it, so it is hand-scanned the
// same way protocol.SyndrDBCodec hand-scans its own wire format.
func parseParamBlock(pb []byte) (Config, error) {
	cfg := DefaultConfig()

	if len(pb) == 0 {
		return cfg, nil
	}

	if pb[0] != ParamBlockVersion1 {
		return cfg, newErrf(KindInvalidParamVersion, map[string]interface{}{
			"gotVersion": pb[0],
		}, "invalid tag in parameter block: expected version %d", ParamBlockVersion1)
	}

	for off := 1; off+5 <= len(pb); off += 5 {
		tag := pb[off]
		val := int32(binary.LittleEndian.Uint32(pb[off+1 : off+5]))

		switch tag {
		case TagMultiError:
			cfg.MultiError = val != 0
		case TagRecordCounts:
			cfg.RecordCounts = val != 0
		case TagBlobIDs:
			switch BlobPolicy(val) {
			case BlobIDsEngine, BlobIDsUser, BlobIDsStream:
				cfg.BlobPolicy = BlobPolicy(val)
			default:
				cfg.BlobPolicy = BlobIDsNone
			}
		case TagDetailedErrors:
			d := int(val)
			if d > DetailedLimitMax {
				d = DetailedLimitMax
			}
			if d < 0 {
				d = 0
			}
			cfg.DetailLimit = d
		case TagBufferBytesSize:
			b := int(val)
			if b > BufferLimitMax {
				b = BufferLimitMax
			}
			if b < BufferLimitDefault {
				b = BufferLimitDefault
			}
			cfg.BufferBytes = b
		default:
			// unknown tags are ignored, per spec.md §6
		}
	}

	return cfg, nil
}

// encodeParamBlock is the inverse of parseParamBlock, used by the tests to
// build the wire form of a Config.
func encodeParamBlock(cfg Config) []byte {
	buf := make([]byte, 1, 1+5*5)
	buf[0] = ParamBlockVersion1

	putClump := func(tag byte, val int32) {
		rec := make([]byte, 5)
		rec[0] = tag
		binary.LittleEndian.PutUint32(rec[1:], uint32(val))
		buf = append(buf, rec...)
	}

	if cfg.MultiError {
		putClump(TagMultiError, 1)
	}
	if cfg.RecordCounts {
		putClump(TagRecordCounts, 1)
	}
	putClump(TagBlobIDs, int32(cfg.BlobPolicy))
	putClump(TagDetailedErrors, int32(cfg.DetailLimit))
	putClump(TagBufferBytesSize, int32(cfg.BufferBytes))

	return buf
}
