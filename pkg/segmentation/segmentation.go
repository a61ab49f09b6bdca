package segmentation

import (
	"sync"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/memory"
)

const DefaultMaxSessions = 2

// NextBlockFunc returns the next block of payload, nil when there is none
type NextBlockFunc func(ctx any) []byte

// DoneFunc is called once when the session is over
type DoneFunc func(ctx any)

// Sender is what the handler needs from the link layer
type Sender interface {
	WriteWithNotification(buf memory.Buffer, onSent func()) error
}

type session struct {
	active     bool
	destObj    uint8
	instance   uint16
	command    uint8
	rspCmdExt0 uint8
	block      []byte
	offset     int
	next       NextBlockFunc
	done       DoneFunc
	ctx        any
}

// Handler sends responses whose payload does not fit in one message.
// The first segment answers the request, the following ones answer the
// continuation commands sent by the module.
type Handler struct {
	mu          sync.Mutex
	logger      *abcc.Logger
	sender      Sender
	sessions    []session
	segmentSize int
}

func NewHandler(sender Sender, maxSessions int, segmentSize int, logger *abcc.Logger) *Handler {
	if logger == nil {
		logger = abcc.NewLogger("SEG")
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Handler{
		logger:      logger,
		sender:      sender,
		sessions:    make([]session, maxSessions),
		segmentSize: segmentSize,
	}
}

// Init drops every session without calling their done callbacks
func (h *Handler) Init() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.sessions {
		h.sessions[i] = session{}
	}
}

// SetSegmentSize sets the payload size of a segment, the driver's max
// message size.
func (h *Handler) SetSegmentSize(size int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.segmentSize = size
}

// StartServerResponse answers req with the first segment of a segmented
// response. req is reused as the response buffer. Further payload is
// taken from first, then from next if not nil.
func (h *Handler) StartServerResponse(req memory.Buffer, rspCmdExt0 uint8, first []byte, next NextBlockFunc, done DoneFunc, ctx any) error {
	if req.IsNil() {
		return abcc.UnexpectedNilPtr
	}
	h.mu.Lock()
	index := -1
	for i := range h.sessions {
		if !h.sessions[i].active {
			index = i
			break
		}
	}
	if index < 0 {
		h.mu.Unlock()
		h.logger.Warning(abcc.NoResources, 0, "no free segmentation session")
		return abcc.NoResources
	}
	s := &h.sessions[index]
	*s = session{
		active:     true,
		destObj:    req.DestObj,
		instance:   req.Instance,
		command:    req.Command(),
		rspCmdExt0: rspCmdExt0,
		block:      first,
		next:       next,
		done:       done,
		ctx:        ctx,
	}
	h.mu.Unlock()
	h.logger.Debug("session %v started for obj x%x inst %v", index, req.DestObj, req.Instance)
	err := h.sendSegment(index, req)
	if err != nil {
		h.mu.Lock()
		h.sessions[index] = session{}
		h.mu.Unlock()
	}
	return err
}

// HandleSegmentAck returns true if buf is a continuation command of an
// active session, in which case the next segment is sent using buf.
func (h *Handler) HandleSegmentAck(buf memory.Buffer) bool {
	if buf.IsNil() || !buf.IsCommand() {
		return false
	}
	h.mu.Lock()
	index := -1
	for i := range h.sessions {
		s := &h.sessions[i]
		if s.active && s.destObj == buf.DestObj && s.instance == buf.Instance && s.command == buf.Command() {
			index = i
			break
		}
	}
	if index < 0 {
		h.mu.Unlock()
		return false
	}
	s := &h.sessions[index]
	if buf.CmdExt1&abcc.CmdExt1SegFirst != 0 {
		// A new request replaces the unfinished session
		done, ctx := s.done, s.ctx
		*s = session{}
		h.mu.Unlock()
		h.logger.Warning(abcc.InternalError, uint32(index), "segmentation session %v restarted by module", index)
		if done != nil {
			done(ctx)
		}
		return false
	}
	if buf.CmdExt1&abcc.CmdExt1SegAbort != 0 {
		done, ctx := s.done, s.ctx
		*s = session{}
		h.mu.Unlock()
		h.logger.Info("segmentation session %v aborted by module", index)
		buf.SetResponse(0)
		buf.CmdExt1 = 0
		if err := h.sender.WriteWithNotification(buf, nil); err != nil {
			h.logger.Warning(abcc.InternalError, uint32(index), "failed to acknowledge abort : %v", err)
		}
		if done != nil {
			done(ctx)
		}
		return true
	}
	done, ctx := s.done, s.ctx
	h.mu.Unlock()
	if err := h.sendSegment(index, buf); err != nil {
		h.logger.Warning(abcc.InternalError, uint32(index), "failed to send segment, session %v dropped : %v", index, err)
		h.mu.Lock()
		h.sessions[index] = session{}
		h.mu.Unlock()
		if done != nil {
			done(ctx)
		}
	}
	return true
}

// fill copies the next segment of session index into buf and returns
// whether it is the last one. next is called without holding the lock.
func (h *Handler) fill(index int, buf memory.Buffer) (last bool) {
	h.mu.Lock()
	s := h.sessions[index]
	size := h.segmentSize
	h.mu.Unlock()
	if size <= 0 || size > len(buf.Data) {
		size = len(buf.Data)
	}
	n := 0
	for n < size {
		if s.offset >= len(s.block) {
			if s.next == nil {
				break
			}
			s.block = s.next(s.ctx)
			s.offset = 0
			if len(s.block) == 0 {
				s.next = nil
				break
			}
		}
		copied := copy(buf.Data[n:size], s.block[s.offset:])
		s.offset += copied
		n += copied
	}
	// Prefetch to know if the segment is the last one
	if s.offset >= len(s.block) && s.next != nil {
		s.block = s.next(s.ctx)
		s.offset = 0
		if len(s.block) == 0 {
			s.next = nil
		}
	}
	last = s.offset >= len(s.block) && s.next == nil
	buf.DataSize = uint16(n)

	h.mu.Lock()
	if last {
		h.sessions[index] = session{}
	} else {
		h.sessions[index] = s
	}
	h.mu.Unlock()
	return last
}

func (h *Handler) sendSegment(index int, buf memory.Buffer) error {
	h.mu.Lock()
	s := h.sessions[index]
	h.mu.Unlock()
	first := buf.CmdExt1&abcc.CmdExt1SegFirst != 0
	last := h.fill(index, buf)

	buf.SetResponse(buf.DataSize)
	buf.CmdExt0 = s.rspCmdExt0
	buf.CmdExt1 = 0
	if first {
		buf.CmdExt1 |= abcc.CmdExt1SegFirst
	}
	var onSent func()
	if last {
		buf.CmdExt1 |= abcc.CmdExt1SegLast
		if s.done != nil {
			done, ctx := s.done, s.ctx
			onSent = func() { done(ctx) }
		}
		h.logger.Debug("last segment of session %v", index)
	}
	return h.sender.WriteWithNotification(buf, onSent)
}

// Active returns the number of running sessions
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, s := range h.sessions {
		if s.active {
			count++
		}
	}
	return count
}
