package kernel

// State of a thread as tracked by the scheduler.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateSuspended
	StateDead
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// TimeoutRef is a handle to a pending single-shot timeout registration.
// Cancel must be called inside the kernel critical region.
type TimeoutRef interface {
	Cancel() error
}

// SuspendRecord is written by whichever party ends a thread's suspension:
// a flag match leaves Status nil and fills Value with the matched bits,
// a timeout writes ErrTimeout, object deletion writes ErrDeleted. Timeout
// holds the live timeout registration, if any, so a competing waker can
// cancel it in the same critical region that performs the wake.
type SuspendRecord struct {
	Status  error
	Value   uint32
	Timeout TimeoutRef
}

// TCB is a thread control block. All fields except Gate are protected by
// the kernel critical region.
type TCB struct {
	ID       Tid
	Name     string
	Priority uint8 // lower value means higher priority
	State    State
	Seq      uint64 // ready-queue insertion order, assigned by the scheduler
	Suspend  SuspendRecord

	// Gate is the thread's run token. The dispatcher hands the CPU to a
	// thread by sending on its gate; the thread parks by receiving. The
	// buffer of one absorbs a dispatch that happens before the park.
	Gate chan struct{}
}

// NewTCB builds a control block that is not yet on any queue. The
// scheduler marks it ready when it is first enqueued.
func NewTCB(name string, priority uint8) *TCB {
	return &TCB{
		Name:     name,
		Priority: priority,
		State:    StateSuspended,
		Gate:     make(chan struct{}, 1),
	}
}
