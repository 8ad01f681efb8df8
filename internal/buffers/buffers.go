// Package buffers implements the owned/borrowed buffer split described in
// the core's design notes (§9 "Buffer ownership split"): rather than one
// type with an ownership flag, an owned Buffer and a borrowed View are
// distinct types with explicit conversions, so a view's lifetime is visibly
// bounded by the buffer that backs it.
package buffers

// Buffer is a contiguous, owned byte allocation. The owner is responsible
// for its lifetime; a Buffer must not be read after it has been stolen via
// Steal.
type Buffer struct {
	data []byte
}

// New wraps a byte slice as an owned Buffer. The caller transfers ownership:
// the slice must not be mutated by anyone else afterwards.
func New(data []byte) Buffer {
	return Buffer{data: data}
}

// Bytes returns the owned contents.
func (b Buffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer length.
func (b Buffer) Len() int {
	return len(b.data)
}

// Empty reports whether the buffer holds no bytes, matching the core's
// "empty schema" / "empty original_cmd" checks.
func (b Buffer) Empty() bool {
	return len(b.data) == 0
}

// View returns a borrowed, read-only view over the buffer's contents. The
// returned View is only valid for as long as b is not reused or discarded.
func (b Buffer) View() View {
	return View{data: b.data}
}

// Steal transfers ownership of the underlying slice out of b, leaving b
// empty. Mirrors the source's _mongocrypt_buffer_steal: exactly one owner at
// a time.
func (b *Buffer) Steal() Buffer {
	out := Buffer{data: b.data}
	b.data = nil
	return out
}

// View is a borrowed, non-owning reference into someone else's Buffer. It
// must never outlive the Buffer that backs it (§3 "Ownership and
// lifecycle"); the type itself cannot enforce that in Go, so callers must
// not retain a View past the scope in which its backing Buffer is valid —
// in particular, never store one in a struct.
type View struct {
	data []byte
}

// NewView wraps a byte slice the caller does not own as a borrowed View.
func NewView(data []byte) View {
	return View{data: data}
}

// Bytes returns the borrowed contents. The caller must not retain or mutate
// the returned slice beyond the view's lifetime.
func (v View) Bytes() []byte {
	return v.data
}

// Len returns the view length.
func (v View) Len() int {
	return len(v.data)
}

// Slice returns a sub-view, propagating borrowed status.
func (v View) Slice(from, to int) View {
	return View{data: v.data[from:to]}
}

// Own copies the view's contents into a new, independently owned Buffer.
// Used whenever a borrowed value (e.g. a traversal callback's payload view)
// must survive past the call that produced it.
func (v View) Own() Buffer {
	cp := make([]byte, len(v.data))
	copy(cp, v.data)
	return Buffer{data: cp}
}
