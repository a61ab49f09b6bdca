package link

import (
	"sync"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/internal/fifo"
	"github.com/samsamfire/goabcc/pkg/memory"
)

// Transport is the part of the physical layer used by the link layer
type Transport interface {
	IsReadyForWriteMessage() bool
	IsReadyForCmd() bool
	// WriteMessage hands msg to the transport. It returns true if msg was
	// copied and can be released immediately, false if the transport
	// keeps a reference until it reports the message as sent.
	WriteMessage(msg *abcc.Message) bool
	// ReadMessage copies a received message into dst, false if none
	ReadMessage(dst *abcc.Message) bool
}

// ResponseHandler is called with the response to a command
type ResponseHandler func(buf memory.Buffer)

type queued struct {
	buf    memory.Buffer
	onSent func()
}

// Link queues outgoing messages for the transport and routes responses
// to the handler registered for their source id.
type Link struct {
	mu          sync.Mutex
	logger      *abcc.Logger
	pool        *memory.Pool
	transport   Transport
	handlers    [256]ResponseHandler
	cmdQueue    *fifo.Fifo[queued]
	respQueue   *fifo.Fifo[queued]
	maxApplCmds int
	cmdCredits  int
	maxMsgSize  int
	inFlight    queued
	sourceId    uint8
}

func NewLink(pool *memory.Pool, transport Transport, maxApplCmds int, maxAbccCmds int, logger *abcc.Logger) *Link {
	if logger == nil {
		logger = abcc.NewLogger("LINK")
	}
	link := &Link{
		logger:      logger,
		pool:        pool,
		transport:   transport,
		cmdQueue:    fifo.NewFifo[queued](maxApplCmds),
		respQueue:   fifo.NewFifo[queued](maxAbccCmds),
		maxApplCmds: maxApplCmds,
	}
	link.Init()
	return link
}

// Init clears the routing table and the queues and restores every
// command credit. Queued buffers are not returned to the pool, the pool is
// expected to be reset alongside.
func (link *Link) Init() {
	link.mu.Lock()
	defer link.mu.Unlock()
	for i := range link.handlers {
		link.handlers[i] = nil
	}
	link.cmdQueue.Reset()
	link.respQueue.Reset()
	link.cmdCredits = link.maxApplCmds
	link.inFlight = queued{}
}

// SetMaxMessageSize sets the largest payload accepted for transmission,
// 0 accepts any size.
func (link *Link) SetMaxMessageSize(size int) {
	link.mu.Lock()
	defer link.mu.Unlock()
	link.maxMsgSize = size
}

// WriteMessage queues buf for transmission. Commands consume a command
// credit which is given back when the response is read.
func (link *Link) WriteMessage(buf memory.Buffer) error {
	return link.WriteWithNotification(buf, nil)
}

// WriteWithNotification queues buf like [Link.WriteMessage]. onSent is
// called once when the message has been handed over to the transport.
func (link *Link) WriteWithNotification(buf memory.Buffer, onSent func()) error {
	if buf.IsNil() {
		return abcc.UnexpectedNilPtr
	}
	link.mu.Lock()
	maxMsgSize := link.maxMsgSize
	link.mu.Unlock()
	if maxMsgSize > 0 && int(buf.DataSize) > maxMsgSize {
		link.logger.Warning(abcc.WrmsgSizeErr, uint32(buf.DataSize), "message too large (%v>%v)", buf.DataSize, maxMsgSize)
		return abcc.WrmsgSizeErr
	}
	// The link owns the buffer as soon as it is queued
	previous := link.pool.Status(buf)
	link.pool.SetStatus(buf, memory.StatusSent)

	link.mu.Lock()
	if buf.IsCommand() {
		if link.cmdCredits == 0 || !link.cmdQueue.Push(queued{buf: buf, onSent: onSent}) {
			link.mu.Unlock()
			link.pool.SetStatus(buf, previous)
			link.logger.Warning(abcc.LinkCmdQueueFull, uint32(buf.SourceId), "command queue full")
			return abcc.LinkCmdQueueFull
		}
		link.cmdCredits--
	} else if !link.respQueue.Push(queued{buf: buf, onSent: onSent}) {
		link.mu.Unlock()
		link.pool.SetStatus(buf, previous)
		link.logger.Warning(abcc.LinkRespQueueFull, uint32(buf.SourceId), "response queue full")
		return abcc.LinkRespQueueFull
	}
	link.mu.Unlock()
	link.logger.Debug("queued %v", buf.Message)
	link.CheckSendMessage()
	return nil
}

// CheckSendMessage hands the next queued message to the transport if it
// is ready for one. Responses go first, commands only when the module
// accepts commands. The transport is called without the link lock, the
// message is in flight from the moment it leaves its queue.
func (link *Link) CheckSendMessage() {
	link.mu.Lock()
	if !link.inFlight.buf.IsNil() || !link.transport.IsReadyForWriteMessage() {
		link.mu.Unlock()
		return
	}
	next, ok := link.respQueue.Pop()
	if !ok && link.cmdQueue.GetOccupied() > 0 && link.transport.IsReadyForCmd() {
		next, ok = link.cmdQueue.Pop()
	}
	if !ok {
		link.mu.Unlock()
		return
	}
	link.inFlight = next
	link.mu.Unlock()

	if !link.transport.WriteMessage(next.buf.Message) {
		return
	}
	link.mu.Lock()
	if link.inFlight.buf.Message == next.buf.Message {
		link.inFlight = queued{}
	}
	link.mu.Unlock()
	link.release(next)
}

// RunDriverRx is called with the message the transport reports as sent,
// if any, and releases it.
func (link *Link) RunDriverRx(sent *abcc.Message) {
	if sent == nil {
		return
	}
	link.mu.Lock()
	current := link.inFlight
	if current.buf.Message != sent {
		link.mu.Unlock()
		link.logger.Warning(abcc.InternalError, 0, "transport reported unknown message as sent")
		return
	}
	link.inFlight = queued{}
	link.mu.Unlock()
	link.release(current)
}

func (link *Link) release(sent queued) {
	link.pool.Free(&sent.buf)
	if sent.onSent != nil {
		sent.onSent()
	}
}

// ReadMessage returns the next received message in a pool buffer, or the
// zero Buffer if nothing was received.
func (link *Link) ReadMessage() memory.Buffer {
	buf := link.pool.Allocate()
	if buf.IsNil() {
		return buf
	}
	if !link.transport.ReadMessage(buf.Message) {
		link.pool.Free(&buf)
		return buf
	}
	if !buf.IsCommand() {
		link.mu.Lock()
		if link.cmdCredits < link.maxApplCmds {
			link.cmdCredits++
		}
		link.mu.Unlock()
	}
	link.logger.Debug("received %v", buf.Message)
	return buf
}

// MapHandler registers the handler of the response to sourceId
func (link *Link) MapHandler(sourceId uint8, handler ResponseHandler) error {
	if handler == nil {
		return abcc.UnexpectedNilPtr
	}
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.handlers[sourceId] != nil {
		return abcc.NoResources
	}
	link.handlers[sourceId] = handler
	return nil
}

// GetHandler returns and unregisters the handler mapped to sourceId
func (link *Link) GetHandler(sourceId uint8) ResponseHandler {
	link.mu.Lock()
	defer link.mu.Unlock()
	handler := link.handlers[sourceId]
	link.handlers[sourceId] = nil
	return handler
}

// NewSourceId returns the next source id that is not mapped to a handler
func (link *Link) NewSourceId() uint8 {
	link.mu.Lock()
	defer link.mu.Unlock()
	for range len(link.handlers) {
		link.sourceId++
		if link.handlers[link.sourceId] == nil {
			break
		}
	}
	return link.sourceId
}

func (link *Link) IsSrcIdUsed(sourceId uint8) bool {
	link.mu.Lock()
	defer link.mu.Unlock()
	return link.handlers[sourceId] != nil
}

// NumCmdQueueEntries returns the number of commands that can still be sent
func (link *Link) NumCmdQueueEntries() int {
	link.mu.Lock()
	defer link.mu.Unlock()
	return link.cmdCredits
}

// The following make the link usable as the message surface of the
// command sequencer and the setup.

// GetCmdMsgBuffer allocates a command buffer if a command can be sent
func (link *Link) GetCmdMsgBuffer() memory.Buffer {
	if link.NumCmdQueueEntries() == 0 {
		return memory.Buffer{}
	}
	return link.pool.Allocate()
}

// SendCmdMsg maps handler to the source id of buf and queues it. The
// mapping is removed again if the message cannot be queued.
func (link *Link) SendCmdMsg(buf memory.Buffer, handler ResponseHandler) error {
	if buf.IsNil() {
		return abcc.UnexpectedNilPtr
	}
	sourceId := buf.SourceId
	if err := link.MapHandler(sourceId, handler); err != nil {
		link.logger.Warning(abcc.NoResources, uint32(sourceId), "no resources available to map response handler")
		return err
	}
	if err := link.WriteMessage(buf); err != nil {
		link.GetHandler(sourceId)
		return err
	}
	return nil
}

// ReturnMsgBuffer returns buf to the pool
func (link *Link) ReturnMsgBuffer(buf *memory.Buffer) {
	link.pool.Free(buf)
}

func (link *Link) MsgBufferStatus(buf memory.Buffer) memory.Status {
	return link.pool.Status(buf)
}

// ReleaseSourceId drops the handler mapped to sourceId, if any
func (link *Link) ReleaseSourceId(sourceId uint8) {
	link.GetHandler(sourceId)
}
