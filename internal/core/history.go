package core

import (
	"errors"
	"iter"

	"mygame/netsim/internal/tick"
)

var (
	ErrStaleTick     = errors.New("input tick is older than the newest recorded tick")
	ErrDuplicateTick = errors.New("input tick already recorded")
)

type slot[T Record] struct {
	value T
	tick  tick.Tick
	set   bool
}

// History keeps the most recent inputs of one entity indexed by tick.
// Ticks must be recorded in increasing order; gaps are allowed.
// It is owned by a single controller and is not safe for concurrent use.
type History[T Record] struct {
	slots []slot[T]
	last  tick.Tick
	floor tick.Tick // entries below floor were pruned
	any   bool

	evicted uint64
}

// NewHistory creates a buffer holding at most capacity ticks.
func NewHistory[T Record](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{slots: make([]slot[T], capacity)}
}

func (h *History[T]) Cap() int { return len(h.slots) }

// Record appends in. Writing past capacity overwrites the oldest tick.
func (h *History[T]) Record(in T) error {
	t := in.Tick()
	if h.any {
		if t == h.last {
			return ErrDuplicateTick
		}
		if t < h.last {
			return ErrStaleTick
		}
	}
	if t < h.floor {
		return ErrStaleTick
	}

	s := &h.slots[h.index(t)]
	if s.set {
		h.evicted++
	}
	*s = slot[T]{value: in, tick: t, set: true}
	h.last = t
	h.any = true
	return nil
}

// Get returns the input recorded for t.
func (h *History[T]) Get(t tick.Tick) (T, bool) {
	var zero T
	if !h.any || t > h.last || t < h.lowest() {
		return zero, false
	}
	s := h.slots[h.index(t)]
	if !s.set || s.tick != t {
		return zero, false
	}
	return s.value, true
}

// Last returns the newest recorded tick.
func (h *History[T]) Last() (tick.Tick, bool) {
	return h.last, h.any
}

// Prune discards every entry with a tick below before.
func (h *History[T]) Prune(before tick.Tick) {
	if before <= h.floor {
		return
	}
	h.floor = before
	for i := range h.slots {
		if h.slots[i].set && h.slots[i].tick < before {
			h.slots[i] = slot[T]{}
		}
	}
}

// Since yields the recorded inputs with ticks strictly greater than after,
// in increasing tick order.
func (h *History[T]) Since(after tick.Tick) iter.Seq[T] {
	return func(yield func(T) bool) {
		if !h.any || after >= h.last {
			return
		}
		from := after + 1
		if lo := h.lowest(); from < lo {
			from = lo
		}
		for t := from; t <= h.last; t++ {
			if in, ok := h.Get(t); ok {
				if !yield(in) {
					return
				}
			}
			if t == h.last {
				return
			}
		}
	}
}

// Len returns the number of retrievable entries.
func (h *History[T]) Len() int {
	n := 0
	lo := h.lowest()
	for _, s := range h.slots {
		if s.set && s.tick >= lo && s.tick <= h.last {
			n++
		}
	}
	return n
}

// Evicted counts entries overwritten before they were pruned.
func (h *History[T]) Evicted() uint64 { return h.evicted }

// lowest is the oldest tick the ring can still hold.
func (h *History[T]) lowest() tick.Tick {
	lo := h.floor
	capacity := tick.Tick(len(h.slots))
	if h.last >= capacity {
		if w := h.last - capacity + 1; w > lo {
			lo = w
		}
	}
	return lo
}

func (h *History[T]) index(t tick.Tick) int {
	return int(t % tick.Tick(len(h.slots)))
}
