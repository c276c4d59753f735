package audio

import "sync"

// PCMBuffer is a bounded byte ring between the decode loop and the speaker.
// Writes past the cap drop the oldest audio; Read blocks until data arrives,
// which is the contract oto's player expects from its io.Reader.
type PCMBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	cap    int
	closed bool
}

func NewPCMBuffer(capBytes int) *PCMBuffer {
	b := &PCMBuffer{data: make([]byte, 0, capBytes), cap: capBytes}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends PCM bytes, discarding the oldest audio when full. Returns how
// many bytes were dropped.
func (b *PCMBuffer) Write(p []byte) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	if over := len(b.data) + len(p) - b.cap; over > 0 {
		if over > len(b.data) {
			over = len(b.data)
		}
		b.data = b.data[over:]
		dropped = over
	}
	b.data = append(b.data, p...)
	b.cond.Signal()
	return dropped
}

func (b *PCMBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.closed && len(b.data) == 0 {
		// Feed silence so the player keeps draining instead of erroring.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

// Close unblocks pending reads; subsequent writes are discarded.
func (b *PCMBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}
