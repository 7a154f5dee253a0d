package kernel

import "sync"

// Tid is a non-owning handle into the thread registry. It encodes a slot
// index and a generation so a handle kept across thread death never
// resolves to a recycled slot.
type Tid uint64

// TidNone is the empty handle.
const TidNone Tid = 0

func makeTid(index int, gen uint32) Tid {
	return Tid(uint64(gen)<<32 | uint64(index+1))
}

func (t Tid) split() (index int, gen uint32) {
	return int(uint32(t)) - 1, uint32(t >> 32)
}

// Valid reports whether the handle refers to any slot at all. A valid
// handle may still be stale; Registry.Get is the authority.
func (t Tid) Valid() bool {
	return t != TidNone
}

type slot struct {
	gen uint32
	tcb *TCB
}

// Registry is a fixed-capacity arena of thread control blocks. Threads
// are referenced everywhere else by Tid, never by pointer, so a waiter
// back-reference on a deleted thread simply resolves to nil.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  []int
	count int
}

func NewRegistry(capacity int) *Registry {
	r := &Registry{slots: make([]slot, capacity), free: make([]int, 0, capacity)}
	for i := capacity - 1; i >= 0; i-- {
		r.free = append(r.free, i)
	}
	return r
}

// Add places a TCB in the arena and stamps its ID. Fails with
// ErrQueueFull when every slot is occupied.
func (r *Registry) Add(t *TCB) (Tid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.free) == 0 {
		return TidNone, ErrQueueFull
	}
	idx := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]

	s := &r.slots[idx]
	s.gen++
	s.tcb = t
	t.ID = makeTid(idx, s.gen)
	r.count++
	return t.ID, nil
}

// Get resolves a handle. Returns nil for the empty handle, a stale
// generation, or a freed slot.
func (r *Registry) Get(id Tid) *TCB {
	if id == TidNone {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, gen := id.split()
	if idx < 0 || idx >= len(r.slots) {
		return nil
	}
	s := &r.slots[idx]
	if s.gen != gen || s.tcb == nil {
		return nil
	}
	return s.tcb
}

// Remove frees the slot behind the handle. Removing an already-freed or
// stale handle fails with ErrInvalidArgument.
func (r *Registry) Remove(id Tid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, gen := id.split()
	if idx < 0 || idx >= len(r.slots) {
		return ErrInvalidArgument
	}
	s := &r.slots[idx]
	if s.gen != gen || s.tcb == nil {
		return ErrInvalidArgument
	}
	s.tcb = nil
	r.free = append(r.free, idx)
	r.count--
	return nil
}

// Len returns the number of live threads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
