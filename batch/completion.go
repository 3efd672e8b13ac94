package batch

// RowOutcome is one row's result within a CompletionState: either a
// success (optionally carrying an affected-row count) or an error. Once
// the detail cap is reached, further errors are recorded as Truncated
// with Err left nil, matching spec.md §4.4's "keep a truncated tag
// beyond the cap" behavior.
type RowOutcome struct {
	OK           bool
	RowsAffected int64
	Err          error
	Truncated    bool
}

// CompletionState is the ordered, per-row completion log spec.md §4.4
// describes: one entry per tuple executed, in execution order (a tuple
// whose BLOB id cannot be translated gets an error entry without being
// sent), with a cap on how
// many full error details are retained. Grounded on
// DsqlBatch::execute's per-message CompletionState usage (genBlobId/
// add-level detail tracking in the original engine), reshaped here as an
// explicit Go value so callers can inspect it without re-deriving state
// from a status vector.
type CompletionState struct {
	outcomes     []RowOutcome
	detailLimit  int
	detailedUsed int
	recordCounts bool
	errorCount   int
}

// NewCompletionState creates an empty log. detailLimit is the maximum
// number of full error details retained (spec.md §6's DETAILED_ERRORS);
// recordCounts selects whether successes carry an affected-row count.
func NewCompletionState(detailLimit int, recordCounts bool) *CompletionState {
	return &CompletionState{
		detailLimit:  detailLimit,
		recordCounts: recordCounts,
	}
}

// AddSuccess appends a successful row outcome.
func (s *CompletionState) AddSuccess(rowsAffected int64) {
	o := RowOutcome{OK: true}
	if s.recordCounts {
		o.RowsAffected = rowsAffected
	}
	s.outcomes = append(s.outcomes, o)
}

// AddError appends a failed row outcome. Once detailLimit full-detail
// errors have been recorded, subsequent errors are kept as a truncated
// marker (Err == nil, Truncated == true) rather than dropped entirely -
// the row count stays accurate even once detail stops.
func (s *CompletionState) AddError(err error) {
	s.errorCount++
	if s.detailedUsed < s.detailLimit {
		s.detailedUsed++
		s.outcomes = append(s.outcomes, RowOutcome{Err: err})
		return
	}
	s.outcomes = append(s.outcomes, RowOutcome{Truncated: true})
}

// Len returns the total number of rows recorded.
func (s *CompletionState) Len() int { return len(s.outcomes) }

// At returns the outcome for row i.
func (s *CompletionState) At(i int) RowOutcome { return s.outcomes[i] }

// All returns every recorded outcome, in send order.
func (s *CompletionState) All() []RowOutcome { return s.outcomes }

// ErrorCount returns the total number of row errors, including those
// truncated past the detail cap.
func (s *CompletionState) ErrorCount() int { return s.errorCount }

// SuccessCount returns the total number of successful rows.
func (s *CompletionState) SuccessCount() int { return len(s.outcomes) - s.errorCount }
