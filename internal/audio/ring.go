package audio

import "sync"

// ringBuffer is a fixed-capacity sample FIFO. Writing into a full buffer
// overwrites the oldest samples.
type ringBuffer struct {
	mu      sync.Mutex
	buf     []int16
	head    int
	size    int
	dropped uint64
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]int16, capacity)}
}

func (r *ringBuffer) write(samples []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	capacity := len(r.buf)
	overwritten := 0
	if len(samples) > capacity {
		overwritten += len(samples) - capacity
		samples = samples[len(samples)-capacity:]
	}
	for _, s := range samples {
		tail := (r.head + r.size) % capacity
		r.buf[tail] = s
		if r.size == capacity {
			r.head = (r.head + 1) % capacity
			overwritten++
		} else {
			r.size++
		}
	}
	r.dropped += uint64(overwritten)
	return overwritten
}

func (r *ringBuffer) read(dst []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(dst)
	if n > r.size {
		n = r.size
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
	return n
}

func (r *ringBuffer) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ringBuffer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}
