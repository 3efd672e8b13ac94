package batch

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"
)

// Error kind tags, matching the secondary status spec.md §7 assigns to
// each failure. Most surface as SQL error -104 ("internal batch error");
// a few carry their own code (-502, -504, -901) the same way the original
// DsqlBatch does.
const (
	KindMessageTooLong          = "MESSAGE_TOO_LONG"
	KindInvalidParamVersion     = "INVALID_PARAM_VERSION"
	KindCursorAlreadyOpen       = "CURSOR_ALREADY_OPEN"
	KindBatchAlreadyActive      = "BATCH_ALREADY_ACTIVE"
	KindUnpreparedStatement     = "UNPREPARED_STATEMENT"
	KindWrongStatementType      = "WRONG_STATEMENT_TYPE"
	KindStatementWithoutParams  = "STATEMENT_WITHOUT_PARAMETERS"
	KindOrphanStatement         = "ORPHAN_STATEMENT"
	KindNoBlobsDeclared         = "NO_BLOBS_DECLARED"
	KindPolicyMismatch          = "POLICY_MISMATCH"
	KindNoLastBlob              = "NO_LAST_BLOB"
	KindBadStreamAlignment      = "BAD_STREAM_ALIGNMENT"
	KindDuplicateBlobID         = "DUPLICATE_BLOB_ID"
	KindUnknownBlobID           = "UNKNOWN_BLOB_ID"
	KindBufferOverflow          = "BUFFER_OVERFLOW"
	KindStreamLeftover          = "STREAM_LEFTOVER"
	KindMessageLeftover         = "MESSAGE_LEFTOVER"
	KindBatchExecuting          = "BATCH_EXECUTING"
	KindWrongMessageLength      = "WRONG_MESSAGE_LENGTH"
	KindInternal                = "INTERNAL"
)

// sqlCode returns the SQL error code spec.md §7 assigns to a kind. Most
// kinds default to -104; a handful get their own code.
func sqlCode(kind string) int {
	switch kind {
	case KindCursorAlreadyOpen, KindBatchAlreadyActive:
		return -502
	case KindUnpreparedStatement:
		return -504
	case KindWrongStatementType, KindStatementWithoutParams, KindOrphanStatement:
		return -901
	default:
		return -104
	}
}

// BatchError is the single error type the batch package returns. It
// follows the same Code/Type/Message/Details/Cause/StackTrace shape as
// client.ConnectionError/QueryError/TransactionError so callers that
// already know how to render this repository's driver errors render
// batch errors identically.
type BatchError struct {
	Kind       string                 `json:"kind"`
	SQLCode    int                    `json:"sqlCode"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stackTrace,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Error implements the error interface, returning the compact one-line
// form "KIND (sqlCode): message", with " (caused by: ...)" appended when
// there is a Cause.
func (e *BatchError) Error() string {
	return e.FormatError(false)
}

// Unwrap returns the underlying cause, for errors.Is/errors.As.
func (e *BatchError) Unwrap() error {
	return e.Cause
}

// FormatError renders the error; debugMode adds the stack trace and full
// detail map, mirroring client.FormatError's two-tier rendering.
func (e *BatchError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s (%d): %s (caused by: %s)", e.Kind, e.SQLCode, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.SQLCode, e.Message)
	}

	data := map[string]interface{}{
		"kind":    e.Kind,
		"sqlCode": e.SQLCode,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		data["details"] = e.Details
	}
	if e.Cause != nil {
		data["cause"] = e.Cause.Error()
	}
	if len(e.StackTrace) > 0 {
		data["stackTrace"] = e.StackTrace
	}
	if !e.Timestamp.IsZero() {
		data["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(data, "", "  ")
	return string(b)
}

// newErr builds a BatchError for kind with the given message, capturing a
// stack trace and timestamp the way client's Err* constructors do.
func newErr(kind, message string, details map[string]interface{}) *BatchError {
	return &BatchError{
		Kind:       kind,
		SQLCode:    sqlCode(kind),
		Message:    message,
		Details:    details,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

func newErrf(kind string, details map[string]interface{}, format string, args ...interface{}) *BatchError {
	return newErr(kind, fmt.Sprintf(format, args...), details)
}

// wrapErr is newErr plus a Cause, for failures that unwind a collaborator
// error (engine executor, blob store, transliterator).
func wrapErr(kind, message string, cause error, details map[string]interface{}) *BatchError {
	e := newErr(kind, message, details)
	e.Cause = cause
	return e
}

func newInternalf(format string, args ...interface{}) *BatchError {
	return newErrf(KindInternal, nil, format, args...)
}

// captureStackTrace mirrors client.captureStackTrace; it is defined here
// so that batch has no dependency on any other package of this module.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs)

	frames := make([]string, 0, n)
	callerFrames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callerFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return frames
}

// FormatError is a package-level helper mirroring client.FormatError: it
// renders any error, using FormatError(bool) when the error implements it.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}
	type debugFormatter interface {
		FormatError(bool) string
	}
	if f, ok := err.(debugFormatter); ok {
		return f.FormatError(debugMode)
	}
	return err.Error()
}
