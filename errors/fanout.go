package errors

import (
	stderrors "errors"
	"fmt"
)

var ErrEmptyMessage = fmt.Errorf("message text is empty")

// FanoutError reports a multi-batch write sequence that stopped part way.
// Batches before the failing one stay committed.
type FanoutError struct {
	Op        string
	Committed int
	Total     int
	Queued    bool
	Cause     error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("%s: committed %d of %d writes: %v", e.Op, e.Committed, e.Total, e.Cause)
}

func (e *FanoutError) Unwrap() error { return e.Cause }

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
