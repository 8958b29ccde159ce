package errorsx

import "errors"

// ReasonedError carries a stable reason code with the underlying error so
// log lines and the END event's reason field classify a failure the same
// way.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap tags err with a reason code. An error tagged deeper in the stack
// keeps its original code; the first classification wins.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the code carried anywhere in err's chain, or
// ReasonUnknown.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err's chain carries the given code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
