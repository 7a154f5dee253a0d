package sched

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/rs/zerolog"

	"minos/common"
	"minos/kernel"
)

// Sched is a cooperative single-core priority scheduler. Exactly one
// thread goroutine holds the CPU at a time; all others are parked on
// their run gates. Threads switch only inside kernel calls, interrupts
// are delivered serialized with thread kernel entry, and every piece of
// scheduler state is protected by one kernel-wide critical region that
// stands in for disabling interrupts.
type Sched struct {
	mu      sync.Mutex
	ready   *btree.BTreeG[*kernel.TCB]
	cap     int
	current *kernel.TCB
	seq     uint64
	idle    *sync.Cond

	reg   *kernel.Registry
	stats *common.Stats
	log   zerolog.Logger
	wg    sync.WaitGroup

	// Interrupt context tracking. Depth and owning goroutine are read
	// outside the region on the Critical fast path, hence atomics.
	isrDepth atomic.Int32
	isrGID   atomic.Int64
}

type Config struct {
	// ReadyCapacity bounds the ready queue; insertion beyond it fails
	// with ErrQueueFull. Defaults to 64.
	ReadyCapacity int
	// ThreadSlots is the thread registry arena size. Defaults to 64.
	ThreadSlots int
	Logger      *zerolog.Logger
}

func New(cfg Config) *Sched {
	if cfg.ReadyCapacity == 0 {
		cfg.ReadyCapacity = 64
	}
	if cfg.ThreadSlots == 0 {
		cfg.ThreadSlots = 64
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	s := &Sched{
		ready: btree.NewG[*kernel.TCB](2, func(a, b *kernel.TCB) bool {
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.Seq < b.Seq
		}),
		cap:   cfg.ReadyCapacity,
		reg:   kernel.NewRegistry(cfg.ThreadSlots),
		stats: common.NewStats(),
		log:   log,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

func (s *Sched) Registry() *kernel.Registry { return s.reg }

func (s *Sched) Stats() *common.Stats { return s.stats }

// inISR reports whether the calling goroutine is executing an interrupt
// handler. Only the goroutine that entered Interrupt can match.
func (s *Sched) inISR() bool {
	return s.isrDepth.Load() > 0 && s.isrGID.Load() == gid()
}

// Critical enters the kernel critical region and returns the leave
// function. Inside an interrupt handler the region is already held by
// the interrupt entry, so re-entry is free.
func (s *Sched) Critical() func() {
	if s.inISR() {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Current returns the running thread, or nil in interrupt context or
// when the CPU is idle. Must be called inside the critical region.
func (s *Sched) Current() *kernel.TCB {
	if s.inISR() {
		return nil
	}
	return s.current
}

// EnqueueReady inserts a thread into the ready queue in priority order.
// Must be called inside the critical region.
func (s *Sched) EnqueueReady(t *kernel.TCB) error {
	if t == nil {
		return kernel.ErrInvalidArgument
	}
	return s.enqueueLocked(t)
}

func (s *Sched) enqueueLocked(t *kernel.TCB) error {
	if t.State == kernel.StateReady {
		panic("sched: thread is already on the ready queue")
	}
	if s.cap > 0 && s.ready.Len() >= s.cap {
		return kernel.ErrQueueFull
	}
	s.seq++
	t.Seq = s.seq
	t.State = kernel.StateReady
	s.ready.ReplaceOrInsert(t)
	s.log.Trace().Str("thread", t.Name).Uint8("prio", t.Priority).Msg("ready")
	return nil
}

// dispatchLocked hands the CPU to the highest-priority ready thread, or
// idles the CPU when none is ready.
func (s *Sched) dispatchLocked() {
	t, ok := s.ready.DeleteMin()
	if !ok {
		s.current = nil
		s.idle.Broadcast()
		return
	}
	t.State = kernel.StateRunning
	s.current = t
	s.stats.Inc("dispatch")
	s.log.Trace().Str("thread", t.Name).Msg("dispatch")
	t.Gate <- struct{}{}
}

// Suspend takes the calling thread off the CPU until some other party
// enqueues it ready again. Must be called from thread context with the
// critical region held and t current; the region is released before
// parking and is NOT held when Suspend returns.
func (s *Sched) Suspend(t *kernel.TCB) {
	if t != s.current {
		panic("sched: suspend of a thread that is not running")
	}
	t.State = kernel.StateSuspended
	s.dispatchLocked()
	s.mu.Unlock()
	<-t.Gate
}

// Reschedule gives up the CPU if a strictly higher-priority thread is
// ready. Called after leaving the critical region, typically right
// after a wakeup. In interrupt context this is a no-op; the interrupt
// exit path performs the dispatch instead.
func (s *Sched) Reschedule() {
	if s.inISR() {
		return
	}
	s.mu.Lock()
	t := s.current
	if t == nil {
		// Not a thread. Kick the queue if the CPU is idle.
		if s.ready.Len() > 0 {
			s.dispatchLocked()
		}
		s.mu.Unlock()
		return
	}
	top, ok := s.ready.Min()
	if !ok || top.Priority >= t.Priority {
		s.mu.Unlock()
		return
	}
	if err := s.enqueueLocked(t); err != nil {
		// Nowhere to put ourselves; keep running.
		s.mu.Unlock()
		return
	}
	s.stats.Inc("preempt")
	s.dispatchLocked()
	s.mu.Unlock()
	<-t.Gate
}

// Interrupt runs fn as an interrupt handler: inside the critical region,
// with Current reporting no thread context. At interrupt exit the CPU is
// handed to a ready thread if it was idle. Nested calls from within the
// handler are run inline.
func (s *Sched) Interrupt(fn func()) {
	g := gid()
	if s.isrDepth.Load() > 0 && s.isrGID.Load() == g {
		s.isrDepth.Add(1)
		fn()
		s.isrDepth.Add(-1)
		return
	}
	s.mu.Lock()
	s.isrGID.Store(g)
	s.isrDepth.Store(1)
	s.stats.Inc("interrupt")
	fn()
	s.isrDepth.Store(0)
	if s.current == nil && s.ready.Len() > 0 {
		s.dispatchLocked()
	}
	s.mu.Unlock()
}

// Spawn creates a kernel thread and enqueues it ready. The thread does
// not run until dispatched; use Start to kick an idle CPU.
func (s *Sched) Spawn(name string, priority uint8, body func()) (kernel.Tid, error) {
	if body == nil {
		return kernel.TidNone, kernel.ErrInvalidArgument
	}
	t := kernel.NewTCB(name, priority)
	tid, err := s.reg.Add(t)
	if err != nil {
		return kernel.TidNone, err
	}

	s.mu.Lock()
	if err := s.enqueueLocked(t); err != nil {
		s.mu.Unlock()
		_ = s.reg.Remove(tid)
		return kernel.TidNone, err
	}
	s.wg.Add(1)
	go s.run(t, body)
	s.mu.Unlock()

	s.log.Debug().Str("thread", name).Uint8("prio", priority).Msg("spawned")
	return tid, nil
}

func (s *Sched) run(t *kernel.TCB, body func()) {
	defer s.wg.Done()
	<-t.Gate
	body()
	s.exit(t)
}

func (s *Sched) exit(t *kernel.TCB) {
	s.mu.Lock()
	t.State = kernel.StateDead
	_ = s.reg.Remove(t.ID)
	s.log.Debug().Str("thread", t.Name).Msg("exited")
	if s.current == t {
		s.dispatchLocked()
	}
	s.mu.Unlock()
}

// Start dispatches the highest-priority ready thread if the CPU is idle.
func (s *Sched) Start() {
	s.mu.Lock()
	if s.current == nil && s.isrDepth.Load() == 0 && s.ready.Len() > 0 {
		s.dispatchLocked()
	}
	s.mu.Unlock()
}

// Join blocks until every spawned thread has exited.
func (s *Sched) Join() {
	s.wg.Wait()
}

// WaitIdle blocks the calling (non-kernel) goroutine until no thread is
// running or ready. Test harnesses use it to advance timers only once
// every thread is parked.
func (s *Sched) WaitIdle() {
	s.mu.Lock()
	for s.current != nil || s.ready.Len() > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()
}
