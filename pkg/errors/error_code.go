package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidTransaction   ErrorCode = 102
	ErrCodeUnknownColumn        ErrorCode = 103
	ErrCodeUnparseableDate      ErrorCode = 104

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound    ErrorCode = 200
	ErrCodePriceNotFound   ErrorCode = 201
	ErrCodeQueryFailed     ErrorCode = 202
	ErrCodeNoDataInWindow  ErrorCode = 203
	ErrCodeNoExecutionDate ErrorCode = 204

	// Ledger errors (300-399)
	ErrCodeSymbolNotHeld  ErrorCode = 300
	ErrCodeLedgerStateNil ErrorCode = 301
	ErrCodeLedgerInsert   ErrorCode = 302

	// Policy errors (400-499)
	ErrCodeUnknownSelectionPolicy ErrorCode = 400
	ErrCodeUnknownSizingPolicy    ErrorCode = 401
	ErrCodeInsufficientFunds      ErrorCode = 402

	// Replay engine errors (500-599)
	ErrCodeReplayNoDataPath      ErrorCode = 500
	ErrCodeReplayNotInitialized  ErrorCode = 501
	ErrCodeReplayNoResultsFolder ErrorCode = 502
)

// IsRecoverable reports whether an error with the given code is recovered
// locally by the replay loop: the affected order leg is skipped and the run
// continues. Everything else aborts the run.
func (c ErrorCode) IsRecoverable() bool {
	switch c {
	case ErrCodePriceNotFound, ErrCodeInsufficientFunds:
		return true
	default:
		return false
	}
}
