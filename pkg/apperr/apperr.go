package apperr

import "errors"

// Error classes shared by the fulfillment, reward, and admin paths.
// Callers wrap these with fmt.Errorf("...: %w", ...) and handlers map them to
// response codes via errors.Is.
var (
	// ErrValidation marks malformed or missing input. No state change.
	ErrValidation = errors.New("validation failed")
	// ErrAuthenticity marks a webhook signature mismatch. Rejected and logged
	// as a security event, no state change.
	ErrAuthenticity = errors.New("signature verification failed")
	// ErrProvider marks a failed external provider call. Synchronous callers
	// see it with a retry suggestion; webhook callers answer 5xx so the
	// provider retries.
	ErrProvider = errors.New("payment provider error")
	// ErrConflict marks a duplicate submission or event. Resolved by
	// returning the previously recorded result.
	ErrConflict = errors.New("duplicate request")
	// ErrReconciliationGap marks a ledger write that failed after money
	// moved. The only class that alerts rather than merely logs; never shown
	// to the end user verbatim.
	ErrReconciliationGap = errors.New("payment confirmed without recorded entitlement")
)
