package store

import (
	"container/list"
	"sync"
)

// byteBacking is the minimal persistent key-value interface the in-memory
// S3-FIFO layer fronts. Both the pseudonym store's read path and the LLM
// cache satisfy it over their own bbolt bucket.
type byteBacking interface {
	get(key string) ([]byte, bool)
	set(key string, value []byte)
	delete(key string) error
}

// s3fifoEntry holds the in-memory state for a single cached item. value
// is []byte rather than a bare token, since pseudonym/llm-cache payloads
// are encoded records.
type s3fifoEntry struct {
	value []byte
	freq  uint8
	elem  *list.Element
	inM   bool
}

// s3fifoCache wraps a byteBacking with an S3-FIFO in-memory eviction layer.
//
// evictOnEviction controls what an in-memory eviction does to the backing
// store: true deletes the backing entry too (the LLM cache's bounded,
// size-capped semantics), false leaves the backing store untouched (the
// pseudonym store's read-path front — mappings are evicted from memory to
// bound RAM, never deleted from disk by cache pressure; only the
// retention sweeper deletes a mapping, since a pseudonym must stay stable
// for as long as it's retained).
type s3fifoCache struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*s3fifoEntry
	sQueue  *list.List
	mQueue  *list.List

	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int

	backing         byteBacking
	evictOnEviction bool
}

// newS3FIFOCache returns an in-memory S3-FIFO front over backing. capacity
// is the maximum number of items kept in memory; values < 2 are clamped.
func newS3FIFOCache(backing byteBacking, capacity int, evictOnEviction bool) *s3fifoCache {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := capacity / 10
	if sTarget < 1 {
		sTarget = 1
	}
	ghostCap := 2 * sTarget
	if ghostCap < 4 {
		ghostCap = 4
	}
	return &s3fifoCache{
		capacity:        capacity,
		sTarget:         sTarget,
		ghostCap:        ghostCap,
		entries:         make(map[string]*s3fifoEntry, capacity),
		sQueue:          list.New(),
		mQueue:          list.New(),
		ghostBuf:        make([]string, ghostCap),
		ghostSet:        make(map[string]struct{}, ghostCap),
		backing:         backing,
		evictOnEviction: evictOnEviction,
	}
}

// Get returns the value for key. A memory hit bumps the saturating freq
// counter; a memory miss falls through to the backing store and, on a
// backing hit, re-warms the entry into memory.
func (c *s3fifoCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.freq < 3 {
			e.freq++
		}
		v := e.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	v, ok := c.backing.get(key)
	if !ok {
		return nil, false
	}
	c.insertLocked(key, v)
	return v, true
}

// Set stores key → value in memory and in the backing store. If key is
// already resident, only its value is updated; queue position is
// unchanged.
func (c *s3fifoCache) Set(key string, value []byte) {
	c.insertLocked(key, value)
	c.backing.set(key, value)
}

// Invalidate drops key from the in-memory layer only, without touching
// the backing store. Used after an external write (e.g. last_seen_at
// bump) so a stale in-memory copy doesn't shadow it.
func (c *s3fifoCache) Invalidate(key string) {
	c.mu.Lock()
	c.removeFromMemory(key)
	c.mu.Unlock()
}

func (c *s3fifoCache) insertLocked(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}

	inM := c.ghostContains(key)
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(key)
	} else {
		elem = c.sQueue.PushBack(key)
	}
	c.entries[key] = &s3fifoEntry{value: value, freq: 0, elem: elem, inM: inM}

	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		c.evictOne()
	}
}

func (c *s3fifoCache) evictOne() {
	if c.sQueue.Len() > 0 {
		c.evictFromS()
		return
	}
	c.evictFromM()
}

func (c *s3fifoCache) evictFromS() {
	front := c.sQueue.Front()
	if front == nil {
		return
	}
	key, ok := front.Value.(string)
	c.sQueue.Remove(front)
	if !ok {
		return
	}

	e, ok := c.entries[key]
	if !ok {
		return
	}

	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.mQueue.PushBack(key)
		mTarget := c.capacity - c.sTarget
		if c.mQueue.Len() > mTarget {
			c.evictFromM()
		}
		return
	}

	delete(c.entries, key)
	c.ghostAdd(key)
	if c.evictOnEviction {
		go func() { _ = c.backing.delete(key) }()
	}
}

func (c *s3fifoCache) evictFromM() {
	front := c.mQueue.Front()
	if front == nil {
		return
	}
	key, ok := front.Value.(string)
	c.mQueue.Remove(front)
	if !ok {
		return
	}
	delete(c.entries, key)
	if c.evictOnEviction {
		go func() { _ = c.backing.delete(key) }()
	}
}

func (c *s3fifoCache) removeFromMemory(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.inM {
		c.mQueue.Remove(e.elem)
	} else {
		c.sQueue.Remove(e.elem)
	}
	delete(c.entries, key)
}

func (c *s3fifoCache) ghostContains(key string) bool {
	_, ok := c.ghostSet[key]
	return ok
}

func (c *s3fifoCache) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		oldest := c.ghostBuf[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	writeIdx := (c.ghostHead + c.ghostCount) % c.ghostCap
	c.ghostBuf[writeIdx] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
