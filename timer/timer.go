package timer

import (
	"github.com/google/btree"
	"github.com/rs/zerolog"

	"minos/kernel"
)

// Scheduler is the slice of the scheduler the timer service needs: the
// kernel critical region, interrupt entry for tick delivery, and the
// suspend/wake path used by Delay.
type Scheduler interface {
	Critical() func()
	Current() *kernel.TCB
	EnqueueReady(*kernel.TCB) error
	Suspend(*kernel.TCB)
	Interrupt(func())
}

type timerState uint8

const (
	statePending timerState = iota
	stateFired
	stateCancelled
)

// Timer is a single-shot callback registration. It implements
// kernel.TimeoutRef so a suspension record can carry it without the
// kernel package depending on this one.
type Timer struct {
	svc   *Service
	fn    func()
	due   int64
	seq   uint64
	state timerState
}

// Cancel removes a pending registration. Must be called inside the
// kernel critical region. Cancelling a timer that has already fired or
// was already cancelled fails with ErrTimer; callers that hold a live
// TimeoutRef in a suspension record never see that, since the callback
// clears the record when it fires.
func (t *Timer) Cancel() error {
	if t.state != statePending {
		return kernel.ErrTimer
	}
	t.state = stateCancelled
	t.svc.queue.Delete(t)
	return nil
}

// Service is a tick-driven single-shot timer service. Register and
// Cancel are called inside the kernel critical region; ticks are
// delivered through the scheduler's interrupt entry, so callbacks run in
// interrupt context with the region held.
type Service struct {
	sched Scheduler
	log   zerolog.Logger
	now   int64
	seq   uint64
	queue *btree.BTreeG[*Timer]
}

func New(sched Scheduler, log zerolog.Logger) *Service {
	return &Service{
		sched: sched,
		log:   log,
		queue: btree.NewG[*Timer](2, func(a, b *Timer) bool {
			if a.due != b.due {
				return a.due < b.due
			}
			return a.seq < b.seq
		}),
	}
}

// Register schedules fn to run ticks from now, in interrupt context.
// Must be called inside the kernel critical region. A zero or negative
// tick count and a nil callback are caller bugs.
func (s *Service) Register(ticks int64, fn func()) (kernel.TimeoutRef, error) {
	t, err := s.register(ticks, fn)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) register(ticks int64, fn func()) (*Timer, error) {
	if ticks <= 0 || fn == nil {
		return nil, kernel.ErrInvalidArgument
	}
	s.seq++
	t := &Timer{svc: s, fn: fn, due: s.now + ticks, seq: s.seq}
	s.queue.ReplaceOrInsert(t)
	return t, nil
}

// Advance moves the tick counter forward n ticks, firing due callbacks.
// Each tick is delivered as one interrupt.
func (s *Service) Advance(n int64) {
	for i := int64(0); i < n; i++ {
		s.sched.Interrupt(s.tick)
	}
}

// tick runs in interrupt context with the region held.
func (s *Service) tick() {
	s.now++
	for {
		t, ok := s.queue.Min()
		if !ok || t.due > s.now {
			return
		}
		s.queue.Delete(t)
		t.state = stateFired
		s.log.Trace().Int64("tick", s.now).Msg("timer fired")
		t.fn()
	}
}

// Now returns the current tick count.
func (s *Service) Now() int64 {
	leave := s.sched.Critical()
	defer leave()
	return s.now
}

// Pending returns the number of registrations that have not fired or
// been cancelled.
func (s *Service) Pending() int {
	leave := s.sched.Critical()
	defer leave()
	return s.queue.Len()
}

// Delay suspends the calling thread for the given number of ticks.
// Callable only from thread context.
func (s *Service) Delay(ticks int64) error {
	if ticks <= 0 {
		return kernel.ErrInvalidArgument
	}
	leave := s.sched.Critical()
	curr := s.sched.Current()
	if curr == nil {
		leave()
		return kernel.ErrContext
	}

	curr.Suspend = kernel.SuspendRecord{}
	t, err := s.register(ticks, func() {
		curr.Suspend.Timeout = nil
		_ = s.sched.EnqueueReady(curr)
	})
	if err != nil {
		leave()
		return err
	}
	curr.Suspend.Timeout = t

	// Suspend releases the region; only the delay callback wakes us.
	s.sched.Suspend(curr)
	return curr.Suspend.Status
}
