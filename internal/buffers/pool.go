package buffers

import "sync/atomic"

// Pool provides thread-safe pooling of the two fixed-size allocations the
// core mints constantly: 16-byte key UUIDs and 32-byte decrypted key
// material. Adapted from the teacher's chunk/nonce buffer pool, resized to
// the shapes this core actually allocates — key identifiers and key bytes,
// not streaming chunk buffers.
type Pool struct {
	pool16 chan []byte // key_uuid-sized buffers
	pool32 chan []byte // decrypted key material

	hits16, misses16 int64
	hits32, misses32 int64
}

// Global is the process-wide default pool, mirroring the teacher's
// globalBufferPool singleton.
var Global = NewPool(256)

// NewPool creates a Pool with the given per-size backlog capacity.
func NewPool(capacity int) *Pool {
	return &Pool{
		pool16: make(chan []byte, capacity),
		pool32: make(chan []byte, capacity),
	}
}

// Get16 returns a 16-byte buffer, recycled if one is available.
func (p *Pool) Get16() []byte {
	select {
	case buf := <-p.pool16:
		atomic.AddInt64(&p.hits16, 1)
		return buf
	default:
		atomic.AddInt64(&p.misses16, 1)
		return make([]byte, 16)
	}
}

// Put16 returns a 16-byte buffer to the pool after zeroizing it, refusing
// anything not sized exactly for this pool.
func (p *Pool) Put16(buf []byte) {
	if cap(buf) != 16 {
		return
	}
	zero(buf)
	select {
	case p.pool16 <- buf[:16]:
	default:
	}
}

// Get32 returns a 32-byte buffer, recycled if one is available.
func (p *Pool) Get32() []byte {
	select {
	case buf := <-p.pool32:
		atomic.AddInt64(&p.hits32, 1)
		return buf
	default:
		atomic.AddInt64(&p.misses32, 1)
		return make([]byte, 32)
	}
}

// Put32 returns a 32-byte buffer to the pool after zeroizing it to avoid
// leaking decrypted key material across reuse.
func (p *Pool) Put32(buf []byte) {
	if cap(buf) != 32 {
		return
	}
	zero(buf)
	select {
	case p.pool32 <- buf[:32]:
	default:
	}
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// Metrics reports pool hit/miss counters, used by internal/metrics to
// publish a gauge of buffer-reuse efficiency.
type Metrics struct {
	Hits16, Misses16 int64
	Hits32, Misses32 int64
}

// Stats returns a point-in-time snapshot of the pool's hit/miss counters.
func (p *Pool) Stats() Metrics {
	return Metrics{
		Hits16:   atomic.LoadInt64(&p.hits16),
		Misses16: atomic.LoadInt64(&p.misses16),
		Hits32:   atomic.LoadInt64(&p.hits32),
		Misses32: atomic.LoadInt64(&p.misses32),
	}
}

// HitRate16 returns the 16-byte pool's hit ratio.
func (m Metrics) HitRate16() float64 {
	total := m.Hits16 + m.Misses16
	if total == 0 {
		return 0
	}
	return float64(m.Hits16) / float64(total)
}

// HitRate32 returns the 32-byte pool's hit ratio.
func (m Metrics) HitRate32() float64 {
	total := m.Hits32 + m.Misses32
	if total == 0 {
		return 0
	}
	return float64(m.Hits32) / float64(total)
}
