package domain

import "errors"

// ErrNotFound is returned by stores when a referenced stage does not exist.
var ErrNotFound = errors.New("not found")

// PreconditionError reports an invalid transition attempt, such as starting
// a stage whose dependencies are unmet. The reason is user-presentable.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// IsPrecondition reports whether err is (or wraps) a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
