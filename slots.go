package dieselrhi

// Slots is an arena of values addressed by generation-checked handles. The low 32 bits of a
// handle hold the slot index plus one, the high 32 bits the slot generation, so a handle that
// outlived its value resolves to nothing instead of to whatever reused the slot.
//
// Slots is not safe for concurrent use.
type Slots[T any] struct {
	entries []slotEntry[T]
	free    []uint32
	live    int
}

type slotEntry[T any] struct {
	value      T
	generation uint32
	used       bool
}

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index+1))
}

func splitHandle(h Handle) (index, generation uint32, ok bool) {
	lo := uint32(h)
	if lo == 0 {
		return 0, 0, false
	}
	return lo - 1, uint32(h >> 32), true
}

// Insert stores v and returns its handle.
func (s *Slots[T]) Insert(v T) Handle {
	var index uint32
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		index = uint32(len(s.entries))
		s.entries = append(s.entries, slotEntry[T]{})
	}
	e := &s.entries[index]
	e.value = v
	e.used = true
	s.live++
	return makeHandle(index, e.generation)
}

// Get returns the value for h, or false when h is null, stale, or unknown.
func (s *Slots[T]) Get(h Handle) (T, bool) {
	var zero T
	index, gen, ok := splitHandle(h)
	if !ok || int(index) >= len(s.entries) {
		return zero, false
	}
	e := &s.entries[index]
	if !e.used || e.generation != gen {
		return zero, false
	}
	return e.value, true
}

// Remove frees the slot for h and returns the value it held. The slot generation advances so
// outstanding copies of h become stale.
func (s *Slots[T]) Remove(h Handle) (T, bool) {
	var zero T
	index, gen, ok := splitHandle(h)
	if !ok || int(index) >= len(s.entries) {
		return zero, false
	}
	e := &s.entries[index]
	if !e.used || e.generation != gen {
		return zero, false
	}
	v := e.value
	e.value = zero
	e.used = false
	e.generation++
	s.free = append(s.free, index)
	s.live--
	return v, true
}

func (s *Slots[T]) Len() int {
	return s.live
}

// Each calls fn for every live value in slot order.
func (s *Slots[T]) Each(fn func(Handle, T)) {
	for i := range s.entries {
		e := &s.entries[i]
		if e.used {
			fn(makeHandle(uint32(i), e.generation), e.value)
		}
	}
}
