package heap

import "sync"

// bytesPool is a sync.Pool-backed scratch-buffer pool, adapted from the
// teacher's storage.BytesPool: get a reusable byte slice, use it as a
// staging area, put it back. Used here to stage before/after image copies
// when assembling the byte ranges handed to the WAL, instead of letting
// every insert or update allocate a fresh scratch slice just to discard it.
type bytesPool struct {
	pool sync.Pool
}

func newBytesPool() *bytesPool {
	return &bytesPool{
		pool: sync.Pool{
			New: func() any {
				buf := new([]byte)
				*buf = make([]byte, 0, 32) // big enough for most tuple images
				return buf
			},
		},
	}
}

func (p *bytesPool) get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bytesPool) put(b *[]byte) {
	*b = (*b)[:0]
	p.pool.Put(b)
}

// stage copies src into a pooled scratch slice and returns an owned copy of
// it, freeing the scratch slice back to the pool before returning.
func (p *bytesPool) stage(src []byte) []byte {
	scratch := p.get()
	*scratch = append((*scratch)[:0], src...)
	out := make([]byte, len(*scratch))
	copy(out, *scratch)
	p.put(scratch)
	return out
}
