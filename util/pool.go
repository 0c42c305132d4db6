package util

import (
	"io"
	"sync"
)

// DefaultBufSize is the copy buffer size used when streaming media
// between the network and the staging area (32 KiB).
const DefaultBufSize = 32 * 1024

// BufPool provides reusable copy buffers, so that a burst of image
// frames does not allocate a fresh buffer per frame.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}

// Copy is io.CopyBuffer with a pooled buffer.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	return io.CopyBuffer(dst, src, *buf)
}
