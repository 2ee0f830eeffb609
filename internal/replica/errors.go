package replica

// BallotError reports that a ballot-scoped request (PreAccept, Accept,
// Prepare) was rejected because a higher ballot already exists for the
// instance.
type BallotError struct{ reason string }

// NewBallotError builds a BallotError.
func NewBallotError(reason string) BallotError { return BallotError{reason: reason} }

func (e BallotError) Error() string { return e.reason }

// TimeoutError reports that a quorum was not reached before a timer
// fired.
type TimeoutError struct{ reason string }

// NewTimeoutError builds a TimeoutError.
func NewTimeoutError(reason string) TimeoutError { return TimeoutError{reason: reason} }

func (e TimeoutError) Error() string { return e.reason }

// ProtocolViolationError marks one of the "impossible case" conditions:
// an invariant broken badly enough that the only safe response is to
// abort.
type ProtocolViolationError struct{ reason string }

// NewProtocolViolationError builds a ProtocolViolationError.
func NewProtocolViolationError(reason string) ProtocolViolationError {
	return ProtocolViolationError{reason: reason}
}

func (e ProtocolViolationError) Error() string { return e.reason }
