package utils

import (
	"encoding/json"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out reusable buffers for request and response bodies.
type BufferPool struct {
	pool *bytebufferpool.Pool
}

var (
	globalPool     *BufferPool
	globalPoolOnce sync.Once
)

func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: &bytebufferpool.Pool{},
	}
}

func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	return bp.pool.Get()
}

func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	bp.pool.Put(buf)
}

// EncodeJSON marshals v into a pooled buffer. The caller must Put it back.
func (bp *BufferPool) EncodeJSON(v any) (*bytebufferpool.ByteBuffer, error) {
	buf := bp.pool.Get()
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		bp.pool.Put(buf)
		return nil, err
	}
	return buf, nil
}

// Global returns the process-wide pool.
func Global() *BufferPool {
	globalPoolOnce.Do(func() {
		globalPool = NewBufferPool()
	})
	return globalPool
}

func Get() *bytebufferpool.ByteBuffer {
	return Global().Get()
}

func Put(buf *bytebufferpool.ByteBuffer) {
	Global().Put(buf)
}

func EncodeJSON(v any) (*bytebufferpool.ByteBuffer, error) {
	return Global().EncodeJSON(v)
}
