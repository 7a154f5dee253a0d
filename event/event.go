// Package event implements event-flag synchronization for the kernel.
//
// An Event is a 32-bit flag word plus room for a single waiter. Threads
// wait for one or more bits to become set, optionally with a timeout or
// without blocking at all; any context, thread or interrupt, may set or
// clear bits. Flags are persistent: a wait never consumes them, clearing
// is an explicit separate call. Deleting an event with a parked waiter
// wakes it with ErrDeleted so the storage can be reused.
//
// Every operation that touches the flag word, the waiter slot or a
// suspension record does so inside the kernel critical region, which is
// the only synchronization mechanism here. The three wake sources (a
// matching Set, a timeout, a Delete) are serialized by that region:
// whichever acts first writes the wake status, cancels any pending
// timeout and clears the waiter slot, so a parked thread is woken
// exactly once.
package event

import (
	"github.com/rs/zerolog"

	"minos/kernel"
)

// Timeout policies for Wait.
const (
	// Forever blocks until the mask is satisfied or the event deleted.
	Forever int64 = 0
	// NoBlock makes Wait return ErrWouldBlock instead of suspending.
	NoBlock int64 = -1
)

// Scheduler is the slice of the thread scheduler the event layer needs.
type Scheduler interface {
	// Critical enters the kernel critical region; the returned func
	// leaves it.
	Critical() func()
	// Current returns the running thread, nil in interrupt context.
	Current() *kernel.TCB
	// EnqueueReady inserts a woken thread into the ready queue in
	// priority order. Region must be held.
	EnqueueReady(*kernel.TCB) error
	// Suspend parks the current thread; releases the region before
	// parking and returns, outside the region, once the thread has been
	// enqueued ready and dispatched again.
	Suspend(*kernel.TCB)
	// Reschedule yields after a wakeup; a no-op in interrupt context,
	// where the interrupt exit path dispatches instead.
	Reschedule()
}

// Timer registers single-shot timeout callbacks. Registrations are
// cancelled through the returned ref. Region must be held.
type Timer interface {
	Register(ticks int64, fn func()) (kernel.TimeoutRef, error)
}

// Event is a caller-allocated event object. The zero value is not ready
// for use; initialize with Service.Create.
type Event struct {
	flags    uint32
	waitMask uint32     // meaningful only while waiter is set
	waiter   kernel.Tid // the one parked thread, TidNone when empty
}

// Service binds the event operations to their collaborators. The
// scheduler and timer are injected rather than reached as globals so
// they can be replaced in tests.
type Service struct {
	sched Scheduler
	timer Timer
	reg   *kernel.Registry
	log   zerolog.Logger
}

func NewService(sched Scheduler, timer Timer, reg *kernel.Registry, log zerolog.Logger) *Service {
	return &Service{sched: sched, timer: timer, reg: reg, log: log}
}

// Create initialises an event object: no flags set, no waiter. The
// object is not yet visible to other contexts, so no locking is needed.
// An event may be recreated after Delete.
func (s *Service) Create(e *Event) error {
	if e == nil {
		return kernel.ErrInvalidArgument
	}
	e.flags = 0
	e.waitMask = 0
	e.waiter = kernel.TidNone
	return nil
}

// Delete tears down an event, waking any parked waiter with ErrDeleted.
// The loop shape survives the single-waiter invariant on purpose: if a
// queue/timer failure aborts one pass, the error is returned with the
// remaining cleanup undone, exactly one waiter per pass.
func (s *Service) Delete(e *Event) error {
	if e == nil {
		return kernel.ErrInvalidArgument
	}

	woke := false
	for {
		leave := s.sched.Critical()

		if e.waiter == kernel.TidNone {
			leave()
			break
		}
		t := s.reg.Get(e.waiter)
		if t == nil {
			// The parked thread is gone from the registry; just drop
			// the stale handle.
			e.waiter, e.waitMask = kernel.TidNone, 0
			leave()
			continue
		}

		t.Suspend.Status = kernel.ErrDeleted
		t.Suspend.Value = 0
		if err := s.sched.EnqueueReady(t); err != nil {
			leave()
			return err
		}
		if ref := t.Suspend.Timeout; ref != nil {
			if err := ref.Cancel(); err != nil {
				e.waiter, e.waitMask = kernel.TidNone, 0
				leave()
				return err
			}
			t.Suspend.Timeout = nil
		}
		e.waiter, e.waitMask = kernel.TidNone, 0
		woke = true
		s.log.Trace().Str("thread", t.Name).Msg("waiter woken by delete")

		leave()
	}

	if woke {
		s.sched.Reschedule()
	}
	return nil
}

// Wait blocks the calling thread until flags&mask is non-zero and
// returns the matched bits. Flags are left set; consuming them is the
// caller's job via Clear.
//
// timeout selects the blocking policy: Forever (0) blocks indefinitely,
// n > 0 blocks for at most n ticks and then fails with ErrTimeout, and
// NoBlock (-1) fails immediately with ErrWouldBlock instead of
// suspending. Blocking is only legal from thread context; an interrupt
// handler gets ErrContext. An event supports a single parked waiter: a
// second concurrent Wait fails with ErrQueueFull rather than queuing.
func (s *Service) Wait(e *Event, mask uint32, timeout int64) (uint32, error) {
	if e == nil {
		return 0, kernel.ErrInvalidArgument
	}

	leave := s.sched.Critical()

	// Fast path: already satisfied. No timer, no scheduler.
	if got := e.flags & mask; got != 0 {
		leave()
		return got, nil
	}
	if timeout < 0 {
		leave()
		return 0, kernel.ErrWouldBlock
	}
	curr := s.sched.Current()
	if curr == nil {
		leave()
		return 0, kernel.ErrContext
	}
	if e.waiter != kernel.TidNone {
		leave()
		return 0, kernel.ErrQueueFull
	}

	e.waiter = curr.ID
	e.waitMask = mask
	curr.Suspend = kernel.SuspendRecord{}
	if timeout > 0 {
		ref, err := s.timer.Register(timeout, func() { s.timeoutFired(e) })
		if err != nil {
			e.waiter, e.waitMask = kernel.TidNone, 0
			leave()
			return 0, err
		}
		curr.Suspend.Timeout = ref
	}
	s.log.Trace().Str("thread", curr.Name).Uint32("mask", mask).Msg("waiter parked")

	// Park. Suspend releases the region; we return once a Set, the
	// timeout or a Delete has enqueued us and we have been dispatched.
	s.sched.Suspend(curr)

	leave = s.sched.Critical()
	status := curr.Suspend.Status
	value := curr.Suspend.Value
	if e.waiter == curr.ID {
		// The waker normally clears the slot in its own region; this
		// covers a waker that could not complete its cleanup.
		e.waiter, e.waitMask = kernel.TidNone, 0
	}
	leave()

	if status != nil {
		return 0, status
	}
	return value, nil
}

// Set ORs mask into the flag word and wakes the waiter if the
// accumulated flags now intersect its wait mask. The bits are set even
// when nobody is waiting, and a waiter whose mask is still not met stays
// parked. A zero mask is rejected to surface caller bugs.
func (s *Service) Set(e *Event, mask uint32) error {
	if e == nil || mask == 0 {
		return kernel.ErrInvalidArgument
	}

	woke := false
	leave := s.sched.Critical()

	e.flags |= mask

	if e.waiter != kernel.TidNone && e.flags&e.waitMask != 0 {
		t := s.reg.Get(e.waiter)
		if t == nil {
			e.waiter, e.waitMask = kernel.TidNone, 0
		} else {
			t.Suspend.Status = nil
			// The waiter must observe flags as of the wake, not as of
			// its suspension; a Clear may race in before it resumes.
			t.Suspend.Value = e.flags & e.waitMask
			if err := s.sched.EnqueueReady(t); err != nil {
				leave()
				return err
			}
			if ref := t.Suspend.Timeout; ref != nil {
				if err := ref.Cancel(); err != nil {
					e.waiter, e.waitMask = kernel.TidNone, 0
					leave()
					return err
				}
				t.Suspend.Timeout = nil
			}
			e.waiter, e.waitMask = kernel.TidNone, 0
			woke = true
			s.log.Trace().Str("thread", t.Name).Uint32("value", t.Suspend.Value).Msg("waiter woken by set")
		}
	}

	leave()

	if woke {
		s.sched.Reschedule()
	}
	return nil
}

// Clear removes bits from the flag word. It never touches the waiter
// and never triggers a wake; in general only the thread that just
// consumed a wait result should clear.
func (s *Service) Clear(e *Event, mask uint32) error {
	if e == nil {
		return kernel.ErrInvalidArgument
	}
	leave := s.sched.Critical()
	e.flags &^= mask
	leave()
	return nil
}

// timeoutFired converts an expired wait timeout into a wakeup. It runs
// in interrupt context with the region held, so it is mutually exclusive
// with Set and Delete; the cancellation protocol guarantees it never
// runs after the waiter was already woken by another cause. No yield
// here: the interrupt exit path handles scheduling.
func (s *Service) timeoutFired(e *Event) {
	t := s.reg.Get(e.waiter)
	if t == nil {
		return
	}
	t.Suspend.Status = kernel.ErrTimeout
	t.Suspend.Value = 0
	t.Suspend.Timeout = nil
	if err := s.sched.EnqueueReady(t); err != nil {
		s.log.Error().Err(err).Str("thread", t.Name).Msg("timeout wake failed")
		return
	}
	e.waiter, e.waitMask = kernel.TidNone, 0
	s.log.Trace().Str("thread", t.Name).Msg("waiter woken by timeout")
}
