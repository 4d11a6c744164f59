package livox

import "sync"

// DefaultBufferLimit is the sample capacity of a new Device.
const DefaultBufferLimit = 200000

// minRingAlloc is the first allocation made for an empty ring.
const minRingAlloc = 1024

// SampleBuffer is a bounded FIFO of samples with drop-oldest eviction. It is
// safe for one producer and any number of consumers. The backing ring grows
// on demand up to the limit, so an idle buffer with a large limit stays small.
type SampleBuffer struct {
	mu      sync.Mutex
	ring    []PointSample
	head    int // index of the oldest sample
	size    int
	limit   int
	evicted uint64
}

// NewSampleBuffer creates an empty buffer; limit is coerced to at least 1.
func NewSampleBuffer(limit int) *SampleBuffer {
	if limit < 1 {
		limit = 1
	}
	return &SampleBuffer{limit: limit}
}

// Push appends samples in order and then evicts the oldest entries until the
// buffer is back within its limit. It returns the number evicted.
func (b *SampleBuffer) Push(samples ...PointSample) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	if len(samples) >= b.limit {
		// Everything already buffered and the head of samples would be
		// evicted anyway; keep only the newest limit samples.
		evicted = b.size + len(samples) - b.limit
		b.head = 0
		b.size = 0
		samples = samples[len(samples)-b.limit:]
	}

	for _, s := range samples {
		if b.size >= b.limit {
			b.dropOldest()
			evicted++
		}
		if b.size == len(b.ring) {
			b.grow()
		}
		b.ring[(b.head+b.size)%len(b.ring)] = s
		b.size++
	}
	b.evicted += uint64(evicted)
	return evicted
}

// Drain moves up to len(dst) of the oldest samples into dst and returns how
// many were moved. A nil or empty dst drains nothing.
func (b *SampleBuffer) Drain(dst []PointSample) int {
	if len(dst) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(dst)
	if n > b.size {
		n = b.size
	}
	for i := 0; i < n; i++ {
		dst[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.advance(n)
	return n
}

// Clear discards every buffered sample. Counters are not touched.
func (b *SampleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// SetLimit changes the capacity (coerced to at least 1) and evicts the
// oldest samples immediately if the buffer is now over it.
func (b *SampleBuffer) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.limit = limit
	for b.size > b.limit {
		b.dropOldest()
		b.evicted++
	}
	if len(b.ring) > b.limit {
		b.resize(b.limit)
	}
}

// Limit returns the current capacity.
func (b *SampleBuffer) Limit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit
}

// Len returns the number of buffered samples.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Evicted returns the cumulative number of samples dropped by the limit.
func (b *SampleBuffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// ResetEvicted zeroes the eviction counter.
func (b *SampleBuffer) ResetEvicted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evicted = 0
}

func (b *SampleBuffer) dropOldest() {
	b.advance(1)
}

func (b *SampleBuffer) advance(n int) {
	if n == 0 {
		return
	}
	b.size -= n
	if b.size == 0 {
		b.head = 0
		return
	}
	b.head = (b.head + n) % len(b.ring)
}

func (b *SampleBuffer) grow() {
	capacity := 2 * len(b.ring)
	if capacity < minRingAlloc {
		capacity = minRingAlloc
	}
	if capacity > b.limit {
		capacity = b.limit
	}
	b.resize(capacity)
}

// resize reallocates the ring in FIFO order; capacity must be >= size.
func (b *SampleBuffer) resize(capacity int) {
	ring := make([]PointSample, capacity)
	for i := 0; i < b.size; i++ {
		ring[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.ring = ring
	b.head = 0
}
