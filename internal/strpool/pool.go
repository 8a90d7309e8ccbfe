package strpool

import (
	"sync"
	"sync/atomic"
)

// chunkDataSize is the size of one arena, 4 MiB per spec.
const chunkDataSize = 1 << 22

// chunk is one contiguous arena: a bump allocator over data, plus the
// in-order singly-linked list of strings it currently holds. mu guards both
// the bytes and the list against concurrent compaction; readers of a
// pooled string's bytes take the shared side, the compactor takes the
// exclusive side.
type chunk struct {
	mu         sync.RWMutex
	data       []byte
	bump       int
	first      *stringHeader
	last       *stringHeader
	fragmented atomic.Uint32
	pool       *Pool
	next       *chunk
}

// Stats reports the pool's current footprint.
type Stats struct {
	NumStrings     int
	NumChunks      int
	ReclaimedBytes int
	UsedBytes      int
}

// Pool is a content-addressed string interner. The zero value is not usable;
// construct with New.
type Pool struct {
	mu    sync.Mutex
	set   map[uint64][]*stringHeader
	head  *chunk
	stats Stats
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{set: make(map[uint64][]*stringHeader)}
}

// Add interns b and returns a handle equal under Equal/EqualBytes to any
// prior Add of the same bytes in this pool. Strings that fit in 7 raw bytes
// or 10 restricted-alphabet bytes are inlined and never touch the pool or
// its allocation failure path.
func (p *Pool) Add(b []byte) String {
	if bits, ok := encodeSmall(b); ok {
		return String{small: bits}
	}

	h := contentHash(b)

	p.mu.Lock()
	for _, hdr := range p.set[h] {
		if hdr.size == uint32(len(b)) && p.bucketEqualLocked(hdr, b) {
			hdr.refcount.Add(1)
			p.mu.Unlock()
			return String{head: hdr}
		}
	}

	c := p.allocChunkLocked(len(b))
	hdr := c.appendLocked(b, h)
	p.set[h] = append(p.set[h], hdr)
	p.stats.NumStrings++
	p.mu.Unlock()

	return String{head: hdr}
}

// bucketEqualLocked compares a candidate header's bytes against b. Called
// with p.mu held; takes the header's chunk RLock to read safely.
func (p *Pool) bucketEqualLocked(hdr *stringHeader, b []byte) bool {
	if hdr.chunk == nil {
		return bytesEqual(hdr.data, b)
	}
	hdr.chunk.mu.RLock()
	defer hdr.chunk.mu.RUnlock()
	return bytesEqual(hdr.data, b)
}

// allocChunkLocked returns a chunk with room for `size` more bytes: the
// first chunk in the list (newest first) whose bump pointer still has room,
// which after a compaction can be an older chunk. Only when no chunk fits
// is a fresh one allocated and prepended to the chunk list. Called with
// p.mu held.
func (p *Pool) allocChunkLocked(size int) *chunk {
	needed := int(align8(uint32(size)))
	for c := p.head; c != nil; c = c.next {
		c.mu.RLock()
		fits := c.bump+needed <= len(c.data)
		c.mu.RUnlock()
		if fits {
			return c
		}
	}

	capacity := chunkDataSize
	if needed > capacity {
		capacity = needed
	}
	c := &chunk{data: make([]byte, capacity), pool: p, next: p.head}
	p.head = c
	p.stats.NumChunks++
	return c
}

// appendLocked bump-allocates room for b at the end of the chunk's live data
// and links a new header in allocation order. Called with p.mu held (so no
// other Add can race the bump pointer) and takes the chunk's own lock only
// to serialize against a concurrent compaction of the same chunk.
func (c *chunk) appendLocked(b []byte, hash uint64) *stringHeader {
	c.mu.Lock()
	defer c.mu.Unlock()

	off := c.bump
	n := copy(c.data[off:], b)
	c.bump += int(align8(uint32(n)))

	hdr := &stringHeader{
		data:  c.data[off : off+n : off+n],
		chunk: c,
		hash:  hash,
		size:  uint32(n),
	}
	hdr.refcount.Add(2) // one for the caller, one for the intern set

	if c.last == nil {
		c.first = hdr
	} else {
		c.last.next = hdr
	}
	c.last = hdr

	return hdr
}

// Stats returns a snapshot of the pool's footprint.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Compact walks every chunk and compacts it regardless of its current
// fragmentation, reclaiming every string whose only remaining reference is
// the pool's own intern-set entry. Useful for tests and for an operator-
// triggered off-cycle compaction; the normal path is the fragmentation
// threshold crossed in String.Release.
func (p *Pool) Compact() {
	p.mu.Lock()
	chunks := make([]*chunk, 0)
	for c := p.head; c != nil; c = c.next {
		chunks = append(chunks, c)
	}
	p.mu.Unlock()

	for _, c := range chunks {
		p.compactChunk(c)
	}
}

// compactChunk slides every still-referenced string in c toward the start
// of its arena, drops headers whose only reference was the intern set, and
// resets the bump pointer and fragmentation counter. Moves are forward and
// non-overlapping by construction (writeOffset never exceeds the string's
// current offset), so an in-place copy is safe under the chunk's exclusive
// lock.
func (p *Pool) compactChunk(c *chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	var newFirst, newLast *stringHeader
	writeOffset := 0
	reclaimed := 0

	for hdr := c.first; hdr != nil; {
		next := hdr.next
		if hdr.refcount.Load() == 1 {
			// Only the intern set held this string; drop it.
			p.removeFromSetLocked(hdr)
			p.stats.NumStrings--
			reclaimed += int(align8(hdr.size))
			hdr.next = nil
			hdr = next
			continue
		}

		n := len(hdr.data)
		copy(c.data[writeOffset:writeOffset+n], hdr.data)
		hdr.data = c.data[writeOffset : writeOffset+n : writeOffset+n]
		writeOffset += int(align8(uint32(n)))

		hdr.next = nil
		if newLast == nil {
			newFirst = hdr
		} else {
			newLast.next = hdr
		}
		newLast = hdr

		hdr = next
	}

	c.first, c.last = newFirst, newLast
	c.bump = writeOffset
	c.fragmented.Store(0)
	p.stats.ReclaimedBytes += reclaimed
}

// removeFromSetLocked deletes hdr from the intern set. Called with p.mu held.
func (p *Pool) removeFromSetLocked(hdr *stringHeader) {
	bucket := p.set[hdr.hash]
	for i, candidate := range bucket {
		if candidate == hdr {
			bucket[i] = bucket[len(bucket)-1]
			p.set[hdr.hash] = bucket[:len(bucket)-1]
			break
		}
	}
	if len(p.set[hdr.hash]) == 0 {
		delete(p.set, hdr.hash)
	}
}
