package market

import "errors"

var (
	ErrInvalidBudget            = errors.New("market: budget must be positive")
	ErrNotFound                 = errors.New("market: job not found")
	ErrJobClosed                = errors.New("market: job already completed")
	ErrBidNotLower              = errors.New("market: bid must undercut the current minimum")
	ErrAlreadyLowestBidder      = errors.New("market: caller already holds the lowest bid")
	ErrUnauthorized             = errors.New("market: caller is not the job employer")
	ErrStaleSelection           = errors.New("market: selected bid is not the current minimum")
	ErrWinnerAlreadySet         = errors.New("market: winner already selected")
	ErrEscrowVerificationFailed = errors.New("market: escrow verification failed")
	ErrNoWinner                 = errors.New("market: no winner selected")
	ErrInvalidBidAmount         = errors.New("market: bid amount must be positive")
	ErrEmployerCannotBid        = errors.New("market: employer cannot bid on own job")
	ErrInsufficientFunds        = errors.New("market: insufficient funds")
	ErrInvalidDescription       = errors.New("market: invalid description")
	ErrInvalidAmount            = errors.New("market: amount out of range")
	ErrInvalidCaller            = errors.New("market: caller address is reserved")

	errNilStore = errors.New("market: store not configured")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidBudget, "INVALID_BUDGET"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrJobClosed, "JOB_CLOSED"},
	{ErrBidNotLower, "BID_NOT_LOWER"},
	{ErrAlreadyLowestBidder, "ALREADY_LOWEST_BIDDER"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrStaleSelection, "STALE_SELECTION"},
	{ErrWinnerAlreadySet, "WINNER_ALREADY_SET"},
	{ErrEscrowVerificationFailed, "ESCROW_VERIFICATION_FAILED"},
	{ErrNoWinner, "NO_WINNER"},
	{ErrInvalidBidAmount, "INVALID_BID_AMOUNT"},
	{ErrEmployerCannotBid, "EMPLOYER_CANNOT_BID"},
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS"},
	{ErrInvalidDescription, "INVALID_DESCRIPTION"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrInvalidCaller, "INVALID_CALLER"},
}

// ErrorCode maps a ledger error to its stable string code. Errors that are not
// part of the ledger taxonomy map to "INTERNAL"; nil maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "INTERNAL"
}

// ErrorForCode is the inverse of ErrorCode. Unknown codes return nil.
func ErrorForCode(code string) error {
	for _, entry := range errorCodes {
		if entry.code == code {
			return entry.err
		}
	}
	return nil
}
