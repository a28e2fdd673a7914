package db

// List is a double-ended sequence of byte strings backed by a ring buffer, so
// pushes and pops at both ends are amortized O(1).
type List struct {
	buf  [][]byte
	head int
	n    int
}

// NewList creates a list holding items in order.
func NewList(items ...[]byte) *List {
	l := &List{}
	for _, it := range items {
		l.PushBack(it)
	}
	return l
}

func (l *List) Kind() Kind { return KindList }

func (l *List) Clone() Value {
	c := &List{buf: make([][]byte, max(l.n, 4)), n: l.n}
	for i := 0; i < l.n; i++ {
		c.buf[i] = append([]byte{}, l.at(i)...)
	}
	return c
}

func (l *List) SizeBytes() int {
	size := 0
	for i := 0; i < l.n; i++ {
		size += len(l.at(i))
	}
	return size
}

func (*List) sealed() {}

// Len returns the number of elements.
func (l *List) Len() int { return l.n }

func (l *List) at(i int) []byte {
	return l.buf[(l.head+i)%len(l.buf)]
}

func (l *List) grow() {
	if l.n < len(l.buf) {
		return
	}
	size := max(4, 2*len(l.buf))
	buf := make([][]byte, size)
	for i := 0; i < l.n; i++ {
		buf[i] = l.at(i)
	}
	l.buf = buf
	l.head = 0
}

// PushFront inserts v as the new head.
func (l *List) PushFront(v []byte) {
	l.grow()
	l.head = (l.head - 1 + len(l.buf)) % len(l.buf)
	l.buf[l.head] = v
	l.n++
}

// PushBack inserts v as the new tail.
func (l *List) PushBack(v []byte) {
	l.grow()
	l.buf[(l.head+l.n)%len(l.buf)] = v
	l.n++
}

// PopFront removes and returns the head.
func (l *List) PopFront() ([]byte, bool) {
	if l.n == 0 {
		return nil, false
	}
	v := l.buf[l.head]
	l.buf[l.head] = nil
	l.head = (l.head + 1) % len(l.buf)
	l.n--
	return v, true
}

// PopBack removes and returns the tail.
func (l *List) PopBack() ([]byte, bool) {
	if l.n == 0 {
		return nil, false
	}
	idx := (l.head + l.n - 1) % len(l.buf)
	v := l.buf[idx]
	l.buf[idx] = nil
	l.n--
	return v, true
}

// normalize resolves a possibly negative index. ok is false when out of range.
func (l *List) normalize(i int) (int, bool) {
	if i < 0 {
		i += l.n
	}
	return i, i >= 0 && i < l.n
}

// Index returns the element at i. Negative indices count from the tail.
func (l *List) Index(i int) ([]byte, bool) {
	i, ok := l.normalize(i)
	if !ok {
		return nil, false
	}
	return l.at(i), true
}

// SetIndex replaces the element at i. Returns false when out of range.
func (l *List) SetIndex(i int, v []byte) bool {
	i, ok := l.normalize(i)
	if !ok {
		return false
	}
	l.buf[(l.head+i)%len(l.buf)] = v
	return true
}

// Bounds clamps an inclusive start/stop range (negative values count from the
// tail) to valid positions. ok is false when the range is empty.
func (l *List) Bounds(start, stop int) (int, int, bool) {
	if start < 0 {
		start += l.n
	}
	if stop < 0 {
		stop += l.n
	}
	if start < 0 {
		start = 0
	}
	if stop >= l.n {
		stop = l.n - 1
	}
	if start > stop || start >= l.n {
		return 0, 0, false
	}
	return start, stop, true
}

// Range returns the elements in the inclusive range [start, stop].
func (l *List) Range(start, stop int) [][]byte {
	start, stop, ok := l.Bounds(start, stop)
	if !ok {
		return [][]byte{}
	}
	out := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, l.at(i))
	}
	return out
}

// Values returns all elements head to tail.
func (l *List) Values() [][]byte {
	return l.Range(0, -1)
}

// Trim keeps only the inclusive range [start, stop].
func (l *List) Trim(start, stop int) {
	kept := l.Range(start, stop)
	l.reset(kept)
}

// InsertAt inserts v so that it ends up at position i (0 <= i <= Len).
func (l *List) InsertAt(i int, v []byte) {
	items := l.Values()
	items = append(items, nil)
	copy(items[i+1:], items[i:])
	items[i] = v
	l.reset(items)
}

// RemoveWhere removes up to count elements equal to v. count > 0 removes from
// head to tail, count < 0 from tail to head and count == 0 removes all.
// Returns the number of removed elements.
func (l *List) RemoveWhere(v []byte, count int) int {
	items := l.Values()
	removed := 0
	keep := make([]bool, len(items))
	for i := range keep {
		keep[i] = true
	}
	limit := count
	if limit < 0 {
		limit = -limit
	}
	match := func(i int) {
		if string(items[i]) == string(v) && (limit == 0 || removed < limit) {
			keep[i] = false
			removed++
		}
	}
	if count >= 0 {
		for i := 0; i < len(items); i++ {
			match(i)
		}
	} else {
		for i := len(items) - 1; i >= 0; i-- {
			match(i)
		}
	}
	if removed == 0 {
		return 0
	}
	out := items[:0]
	for i, it := range items {
		if keep[i] {
			out = append(out, it)
		}
	}
	l.reset(out)
	return removed
}

func (l *List) reset(items [][]byte) {
	buf := make([][]byte, max(4, len(items)))
	copy(buf, items)
	l.buf = buf
	l.head = 0
	l.n = len(items)
}
