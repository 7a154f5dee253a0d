package kernel

import "errors"

// Status codes shared by the kernel services. A thread woken by a timeout
// or by object deletion receives the corresponding error as its wait
// result; these are documented outcomes, not faults.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTimeout         = errors.New("timed out")
	ErrWouldBlock      = errors.New("would block")
	ErrDeleted         = errors.New("object deleted")
	ErrContext         = errors.New("cannot block outside thread context")
	ErrQueueFull       = errors.New("queue full")
	ErrTimer           = errors.New("timer operation failed")
)
