package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out chunk-sized read buffers for the streaming relay,
// backed by valyala/bytebufferpool so long-running relays do not churn the
// allocator with one fresh slice per request.
type BufferPool struct {
	pool      *bytebufferpool.Pool
	chunkSize int
}

// NewBufferPool creates a pool that vends buffers of at least chunkSize bytes.
func NewBufferPool(chunkSize int) *BufferPool {
	return &BufferPool{
		chunkSize: chunkSize,
		pool:      &bytebufferpool.Pool{},
	}
}

// ChunkSize returns the configured buffer length.
func (bp *BufferPool) ChunkSize() int {
	return bp.chunkSize
}

// Get returns a buffer whose B slice is exactly chunkSize long, ready to be
// used as a read target. Contents are undefined; callers only use the bytes
// the read actually filled.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	if cap(buf.B) < bp.chunkSize {
		buf.B = make([]byte, bp.chunkSize)
	} else {
		buf.B = buf.B[:bp.chunkSize]
	}
	return buf
}

// GetSized returns a buffer with a B slice of the requested length, for
// callers that need a non-default chunk size (e.g. the speed probe).
func (bp *BufferPool) GetSized(n int) *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	if cap(buf.B) < n {
		buf.B = make([]byte, n)
	} else {
		buf.B = buf.B[:n]
	}
	return buf
}

// Put returns a buffer to the pool.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}
