package buffers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolGetPutReuse(t *testing.T) {
	p := NewPool(4)

	buf := p.Get16()
	assert.Len(t, buf, 16)

	buf[0] = 0xFF
	p.Put16(buf)

	reused := p.Get16()
	assert.Equal(t, byte(0), reused[0], "Put16 must zeroize before returning to the pool")

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Hits16)
	assert.Equal(t, int64(1), stats.Misses16)
}

func TestPoolRejectsWrongSizedBuffer(t *testing.T) {
	p := NewPool(4)
	p.Put16(make([]byte, 8)) // wrong size, must be dropped not pooled

	buf := p.Get16()
	assert.Len(t, buf, 16)
	assert.Equal(t, int64(1), p.Stats().Misses16, "rejected buffer must not satisfy the next Get16")
}

func TestPool32IndependentFromPool16(t *testing.T) {
	p := NewPool(4)

	a := p.Get32()
	assert.Len(t, a, 32)
	p.Put32(a)

	stats := p.Stats()
	assert.Equal(t, int64(0), stats.Hits16)
	assert.Equal(t, int64(1), stats.Misses32)
}

func TestMetricsHitRate(t *testing.T) {
	m := Metrics{Hits16: 3, Misses16: 1}
	assert.InDelta(t, 0.75, m.HitRate16(), 0.0001)

	empty := Metrics{}
	assert.Equal(t, float64(0), empty.HitRate16())
	assert.Equal(t, float64(0), empty.HitRate32())
}

func TestPoolBacklogCapacityDropsExcess(t *testing.T) {
	p := NewPool(1)
	p.Put16(make([]byte, 16))
	p.Put16(make([]byte, 16)) // backlog full, dropped silently rather than blocking

	_ = p.Get16()
	assert.Equal(t, int64(0), p.Stats().Misses16)
	assert.Equal(t, byte(0), p.Get16()[0])
}
