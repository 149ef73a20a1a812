package errors

import "errors"

var (
	ErrInvalidWindow       = errors.New("poll end time must be after start time")
	ErrUnknownChoice       = errors.New("unknown choice")
	ErrChoiceLimitExceeded = errors.New("choice limit exceeded")
	ErrAlreadyVoted        = errors.New("voter already has an active vote")
	ErrNoActiveVote        = errors.New("voter has no active vote")
	ErrVotingClosed        = errors.New("voting is closed")
	ErrZeroWeight          = errors.New("resolved vote weight is zero")
	ErrTransferFailed      = errors.New("asset transfer failed")
	ErrPollNotFound        = errors.New("poll not found")

	ErrInvalidPollInput    = errors.New("invalid poll input")
	ErrUnknownPollKind     = errors.New("unknown poll kind")
	ErrInvalidChoiceSet    = errors.New("invalid choice set for poll kind")
	ErrInvalidWeightConfig = errors.New("invalid weight configuration")
	ErrChoicesFixed        = errors.New("poll kind does not allow new choices")
	ErrEnrollmentClosed    = errors.New("choice enrollment is closed")
	ErrDuplicateChoice     = errors.New("duplicate choice name")
	ErrNotPollOwner        = errors.New("only the poll owner may add choices")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	ErrEventNotFound       = errors.New("ledger event not found")
	ErrWeightOutOfRange    = errors.New("vote weight exceeds the ledger's integer range")
)

// ErrTallyInconsistent signals a stored tally smaller than a live vote's
// weight. It indicates ledger corruption, never a caller mistake.
var ErrTallyInconsistent = errors.New("poll tally is inconsistent with recorded votes")
