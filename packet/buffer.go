package packet

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Buffer is a fixed-capacity byte slab owned by a BufferPool. A Packet keeps
// exactly one Buffer alive; slice views into it shrink without copying.
type Buffer struct {
	data []byte
	pool *BufferPool
}

// Data returns the full slab.
func (b *Buffer) Data() []byte {
	return b.data
}

// Slice returns a view of the slab without copying.
func (b *Buffer) Slice(from, to int) []byte {
	return b.data[from:to]
}

func (b *Buffer) free() {
	if b.pool != nil {
		b.pool.put(b)
	}
}

// BufferPool hands out fixed-size slabs and tracks outstanding allocations
// so teardown can assert none leaked.
type BufferPool struct {
	size        int
	pool        sync.Pool
	outstanding int64
}

// NewBufferPool creates a pool of slabs of the given byte size.
func NewBufferPool(size int) (*BufferPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buffer pool: invalid slab size %d", size)
	}

	p := &BufferPool{size: size}
	p.pool.New = func() interface{} {
		return &Buffer{data: make([]byte, size), pool: p}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewBufferPool",
		"slab_size": size,
	}).Debug("Created buffer pool")

	return p, nil
}

// Get acquires a slab.
func (p *BufferPool) Get() *Buffer {
	atomic.AddInt64(&p.outstanding, 1)
	b := p.pool.Get().(*Buffer)
	b.data = b.data[:p.size]
	return b
}

// Size returns the slab size in bytes.
func (p *BufferPool) Size() int {
	return p.size
}

// Outstanding returns the number of slabs currently held by callers.
func (p *BufferPool) Outstanding() int64 {
	return atomic.LoadInt64(&p.outstanding)
}

func (p *BufferPool) put(b *Buffer) {
	if atomic.AddInt64(&p.outstanding, -1) < 0 {
		panic("buffer pool: double free")
	}
	p.pool.Put(b)
}
