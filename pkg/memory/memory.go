package memory

import (
	"sync"

	abcc "github.com/samsamfire/goabcc"
)

// Status is the lifecycle tag of a pool buffer
type Status uint8

const (
	StatusFree          Status = 0
	StatusAllocated     Status = 1
	StatusInApplHandler Status = 2
	StatusSent          Status = 3
	StatusOwned         Status = 4
)

var statusMap = map[Status]string{
	StatusFree:          "FREE",
	StatusAllocated:     "ALLOCATED",
	StatusInApplHandler: "IN_APPL_HANDLER",
	StatusSent:          "SENT",
	StatusOwned:         "OWNED",
}

func (s Status) String() string {
	name, ok := statusMap[s]
	if ok {
		return name
	}
	return "UNKNOWN"
}

// Buffer references a message stored in a [Pool] slot. The generation is
// bumped every time the slot is freed so that a reference kept after
// [Pool.Free] is detected. The zero Buffer references nothing.
type Buffer struct {
	*abcc.Message
	slot uint16
	gen  uint16
}

// IsNil is true for the zero Buffer
func (b Buffer) IsNil() bool {
	return b.Message == nil
}

type entry struct {
	msg    *abcc.Message
	status Status
	gen    uint16
}

// Pool is a fixed set of message buffers
type Pool struct {
	mu      sync.Mutex
	logger  *abcc.Logger
	entries []entry
	free    []uint16
}

// NewPool creates numSlots buffers, each able to carry maxDataSize bytes
func NewPool(numSlots int, maxDataSize int, logger *abcc.Logger) *Pool {
	if logger == nil {
		logger = abcc.NewLogger("MEM")
	}
	p := &Pool{
		logger:  logger,
		entries: make([]entry, numSlots),
		free:    make([]uint16, 0, numSlots),
	}
	for i := range p.entries {
		p.entries[i].msg = abcc.NewMessage(maxDataSize)
	}
	p.Reset()
	return p
}

// Reset marks every buffer as free. References handed out before are
// invalidated.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = p.free[:0]
	for i := len(p.entries) - 1; i >= 0; i-- {
		p.entries[i].status = StatusFree
		p.entries[i].gen++
		p.free = append(p.free, uint16(i))
	}
}

// Allocate returns a buffer in [StatusAllocated], or the zero Buffer if
// the pool is empty.
func (p *Pool) Allocate() Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return Buffer{}
	}
	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	e := &p.entries[slot]
	e.status = StatusAllocated
	e.msg.Reset()
	return Buffer{Message: e.msg, slot: slot, gen: e.gen}
}

// lookup returns the entry of b, nil if the slot does not hold b's message.
// stale is true when the slot was freed since b was handed out.
func (p *Pool) lookup(b Buffer) (e *entry, stale bool) {
	if b.Message == nil || int(b.slot) >= len(p.entries) {
		return nil, false
	}
	e = &p.entries[b.slot]
	if e.msg != b.Message {
		return nil, false
	}
	return e, e.gen != b.gen
}

// Free returns the buffer to the pool and clears the caller's reference.
// Freeing a corrupted or already freed buffer is fatal.
func (p *Pool) Free(b *Buffer) {
	if b == nil || b.IsNil() {
		p.logger.Error(abcc.TryingToFreeNilBuffer, 0, "trying to free nil buffer")
		return
	}
	p.mu.Lock()
	e, stale := p.lookup(*b)
	if e == nil {
		p.mu.Unlock()
		p.logger.Fatal(abcc.MsgBufferCorrupted, uint32(b.slot), "message buffer corrupted (slot %v)", b.slot)
		return
	}
	if stale || e.status == StatusFree {
		p.mu.Unlock()
		p.logger.Fatal(abcc.MsgBufferAlreadyFreed, uint32(b.slot), "message buffer already freed (slot %v)", b.slot)
		return
	}
	e.status = StatusFree
	e.gen++
	p.free = append(p.free, b.slot)
	p.mu.Unlock()
	*b = Buffer{}
}

// Status returns the tag of b. A reference to a buffer freed since is
// reported as [StatusFree].
func (p *Pool) Status(b Buffer) Status {
	p.mu.Lock()
	e, stale := p.lookup(b)
	if e == nil {
		p.mu.Unlock()
		p.logger.Fatal(abcc.MsgBufferCorrupted, uint32(b.slot), "message buffer corrupted (slot %v)", b.slot)
		return StatusFree
	}
	defer p.mu.Unlock()
	if stale {
		return StatusFree
	}
	return e.status
}

// SetStatus updates the tag of b
func (p *Pool) SetStatus(b Buffer, status Status) {
	p.mu.Lock()
	e, stale := p.lookup(b)
	if e == nil || stale {
		p.mu.Unlock()
		p.logger.Fatal(abcc.MsgBufferCorrupted, uint32(b.slot), "message buffer corrupted (slot %v)", b.slot)
		return
	}
	e.status = status
	p.mu.Unlock()
}

// Available returns the number of free buffers
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Size returns the total number of buffers
func (p *Pool) Size() int {
	return len(p.entries)
}
