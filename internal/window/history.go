package window

// Entry is one (timestamp, volume) sample retained in a pair's history.
type Entry struct {
	Timestamp int64
	Volume    float64
}

// compactAt is the number of consumed head slots that triggers compaction.
const compactAt = 64

// history is a timestamp-ordered deque for a single pair.
// Eviction pops from the head, appends go to the tail; the head index
// avoids reslicing on every pop and the buffer is compacted once the
// dead prefix dominates.
type history struct {
	buf  []Entry
	head int

	newest  int64 // maximum timestamp ever appended to this pair
	started bool

	// prev is the newest entry before the latest append, if still retained.
	prev    Entry
	hasPrev bool
}

func (h *history) len() int {
	return len(h.buf) - h.head
}

func (h *history) empty() bool {
	return h.head >= len(h.buf)
}

func (h *history) entries() []Entry {
	return h.buf[h.head:]
}

func (h *history) tail() (Entry, bool) {
	if h.empty() {
		return Entry{}, false
	}
	return h.buf[len(h.buf)-1], true
}

// push inserts e keeping timestamp order. In-order data is O(1); a late
// entry walks back from the tail to its slot.
func (h *history) push(e Entry) {
	h.buf = append(h.buf, e)
	i := len(h.buf) - 1
	for i > h.head && h.buf[i-1].Timestamp > e.Timestamp {
		h.buf[i] = h.buf[i-1]
		i--
	}
	h.buf[i] = e
	if !h.started || e.Timestamp > h.newest {
		h.newest = e.Timestamp
		h.started = true
	}
}

// evict drops every entry whose age relative to newest is >= horizon.
func (h *history) evict(horizon int64) int {
	n := 0
	for !h.empty() && h.newest-h.buf[h.head].Timestamp >= horizon {
		h.buf[h.head] = Entry{}
		h.head++
		n++
	}
	h.maybeCompact()
	return n
}

func (h *history) maybeCompact() {
	if h.empty() {
		h.buf = h.buf[:0]
		h.head = 0
		return
	}
	if h.head < compactAt {
		return
	}
	if h.head*2 < len(h.buf) {
		return
	}
	n := len(h.buf) - h.head
	newBuf := make([]Entry, n, n*2)
	copy(newBuf, h.buf[h.head:])
	h.buf = newBuf
	h.head = 0
}
