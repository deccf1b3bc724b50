package sandbox

// TailBuffer is a fixed-capacity io.Writer that retains only the most
// recent bytes written to it. Exec output streams through one so an
// unbounded command can't exhaust memory while the agent still sees the
// end of the output.
//
// TailBuffer is not safe for concurrent use; each exec confines one
// writer goroutine.
type TailBuffer struct {
	buf     []byte
	head    int
	full    bool
	written int64
}

const defaultTailCap = 16 * 1024

// NewTailBuffer creates a buffer retaining up to capacity bytes.
func NewTailBuffer(capacity int) *TailBuffer {
	if capacity <= 0 {
		capacity = defaultTailCap
	}
	return &TailBuffer{buf: make([]byte, capacity)}
}

// Write implements io.Writer. It never fails; older bytes are evicted
// once the buffer is full.
func (t *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.written += int64(n)

	if n >= len(t.buf) {
		copy(t.buf, p[n-len(t.buf):])
		t.head = 0
		t.full = true
		return n, nil
	}

	space := len(t.buf) - t.head
	if n <= space {
		copy(t.buf[t.head:], p)
		t.head += n
		if t.head == len(t.buf) {
			t.head = 0
			t.full = true
		}
	} else {
		copy(t.buf[t.head:], p[:space])
		copy(t.buf, p[space:])
		t.head = n - space
		t.full = true
	}
	return n, nil
}

// Bytes returns the retained bytes in write order.
func (t *TailBuffer) Bytes() []byte {
	if !t.full {
		return append([]byte(nil), t.buf[:t.head]...)
	}
	out := make([]byte, len(t.buf))
	n := copy(out, t.buf[t.head:])
	copy(out[n:], t.buf[:t.head])
	return out
}

// String returns the retained bytes as a string.
func (t *TailBuffer) String() string {
	return string(t.Bytes())
}

// Len returns the number of bytes currently retained.
func (t *TailBuffer) Len() int {
	if t.full {
		return len(t.buf)
	}
	return t.head
}

// Truncated reports whether older output has been evicted.
func (t *TailBuffer) Truncated() bool {
	return t.written > int64(len(t.buf))
}
