package relay

import "sync"

// copyBufferSize is the per-direction read size.
const copyBufferSize = 4096

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

func getBuffer() *[]byte {
	return bufPool.Get().(*[]byte)
}

func putBuffer(b *[]byte) {
	bufPool.Put(b)
}
