package cmdseq

import (
	"sync"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/link"
	"github.com/samsamfire/goabcc/pkg/memory"
)

const (
	DefaultMaxInstances = 2
	DefaultMaxRetries   = 10
)

// CmdStatus is returned by a command builder
type CmdStatus uint8

const (
	CmdSend  CmdStatus = 0 // send the built command
	CmdSkip  CmdStatus = 1 // nothing to send, go to next step
	CmdAbort CmdStatus = 2
)

// RespStatus is returned by a response handler
type RespStatus uint8

const (
	RespExecNext    RespStatus = 0
	RespExecCurrent RespStatus = 1 // run the same step again
	RespAbort       RespStatus = 2
)

// Result of a finished sequence
type Result uint8

const (
	ResultCompleted       Result = 0
	ResultAbortedInternal Result = 1 // a builder or handler aborted
	ResultAbortedExternal Result = 2 // [Sequencer.Abort] was called
)

var resultMap = map[Result]string{
	ResultCompleted:       "COMPLETED",
	ResultAbortedInternal: "ABORTED-INTERNAL",
	ResultAbortedExternal: "ABORTED-EXTERNAL",
}

func (r Result) String() string {
	name, ok := resultMap[r]
	if ok {
		return name
	}
	return "UNKNOWN"
}

type State uint8

const (
	StateNotStarted         State = 0
	StateBusy               State = 1
	StateWaitingForResponse State = 2
	StateNeedsRetrigger     State = 3
)

var stateMap = map[State]string{
	StateNotStarted:         "NOT-STARTED",
	StateBusy:               "BUSY",
	StateWaitingForResponse: "WAITING-FOR-RESPONSE",
	StateNeedsRetrigger:     "NEEDS-RETRIGGER",
}

func (s State) String() string {
	name, ok := stateMap[s]
	if ok {
		return name
	}
	return "UNKNOWN"
}

type CommandFunc func(buf memory.Buffer, ctx any) CmdStatus
type ResponseFunc func(buf memory.Buffer, ctx any) RespStatus
type DoneFunc func(result Result, ctx any)

// Step of a sequence. A step without Response just moves on once its
// response is received.
type Step struct {
	Name     string
	Command  CommandFunc
	Response ResponseFunc
}

// Table is a sequence of steps. It ends at the first step without a
// Command or at the end of the slice.
type Table []Step

// Messenger sends commands and owns message buffers
type Messenger interface {
	GetCmdMsgBuffer() memory.Buffer
	SendCmdMsg(buf memory.Buffer, handler link.ResponseHandler) error
	ReturnMsgBuffer(buf *memory.Buffer)
	MsgBufferStatus(buf memory.Buffer) memory.Status
	ReleaseSourceId(sourceId uint8)
}

// Handle references a running sequence. The zero Handle references every
// sequence.
type Handle struct {
	index int
	gen   uint32
}

func (h Handle) IsZero() bool {
	return h.gen == 0
}

type instance struct {
	table    Table
	done     DoneFunc
	ctx      any
	state    State
	index    int
	sourceId uint8
	retries  uint16
	result   Result
	gen      uint32
}

// terminator returns true if step i ends the table
func (t Table) terminator(i int) bool {
	return i >= len(t) || t[i].Command == nil
}

// end returns the index of the first terminator after i
func (t Table) end(i int) int {
	for !t.terminator(i) {
		i++
	}
	return i
}

// Sequencer runs command sequences
type Sequencer struct {
	mu         sync.Mutex
	logger     *abcc.Logger
	messenger  Messenger
	instances  []instance
	retrigger  int
	maxRetries uint16
}

func NewSequencer(messenger Messenger, maxInstances int, maxRetries uint16, logger *abcc.Logger) *Sequencer {
	if logger == nil {
		logger = abcc.NewLogger("CMDSEQ")
	}
	if maxInstances <= 0 {
		maxInstances = DefaultMaxInstances
	}
	s := &Sequencer{
		logger:     logger,
		messenger:  messenger,
		instances:  make([]instance, maxInstances),
		maxRetries: maxRetries,
	}
	s.Init()
	return s
}

// Init drops every sequence without calling their done callbacks
func (s *Sequencer) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.instances {
		gen := s.instances[i].gen
		s.instances[i] = instance{gen: gen + 1}
	}
	s.retrigger = 0
}

// setState must be called with the lock held. It keeps the retrigger
// counter in line with the instances in [StateNeedsRetrigger].
func (s *Sequencer) setState(inst *instance, state State) {
	if inst.state == StateNeedsRetrigger && state != StateNeedsRetrigger {
		s.retrigger--
	}
	if inst.state != StateNeedsRetrigger && state == StateNeedsRetrigger {
		s.retrigger++
	}
	inst.state = state
}

func (s *Sequencer) checkAndSetState(index int, check State, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := &s.instances[index]
	if inst.table == nil || inst.state != check {
		return false
	}
	s.setState(inst, state)
	return true
}

// reset must be called with the lock held
func (s *Sequencer) reset(inst *instance) {
	s.setState(inst, StateNotStarted)
	*inst = instance{gen: inst.gen + 1}
}

// Add starts a new sequence
func (s *Sequencer) Add(table Table, done DoneFunc, ctx any) (Handle, error) {
	if table == nil {
		return Handle{}, abcc.ParameterNotValid
	}
	s.mu.Lock()
	index := -1
	for i := range s.instances {
		if s.instances[i].table == nil {
			index = i
			break
		}
	}
	if index < 0 {
		s.mu.Unlock()
		s.logger.Warning(abcc.OutOfCmdSeqResources, uint32(len(s.instances)), "out of command sequence resources")
		return Handle{}, abcc.OutOfCmdSeqResources
	}
	inst := &s.instances[index]
	inst.table = table
	inst.done = done
	inst.ctx = ctx
	inst.result = ResultCompleted
	s.setState(inst, StateBusy)
	handle := Handle{index: index, gen: inst.gen}
	s.mu.Unlock()

	s.execute(index, s.messenger.GetCmdMsgBuffer())
	return handle, nil
}

// execute runs the builders of a busy instance from its current step. It
// returns true if buf was consumed, i.e. sent or returned.
func (s *Sequencer) execute(index int, buf memory.Buffer) bool {
	inst := &s.instances[index]
	if buf.IsNil() {
		s.mu.Lock()
		s.setState(inst, StateNeedsRetrigger)
		s.mu.Unlock()
		s.logger.Debug("sequence %v waiting for a buffer", index)
		return false
	}
	inst.retries = 0
	for !inst.table.terminator(inst.index) {
		step := inst.table[inst.index]
		s.logger.Debug("sequence %v -> %v command", index, step.Name)
		switch status := step.Command(buf, inst.ctx); status {
		case CmdSkip:
			inst.index++
		case CmdSend:
			s.mu.Lock()
			inst.sourceId = buf.SourceId
			s.setState(inst, StateWaitingForResponse)
			s.mu.Unlock()
			if err := s.messenger.SendCmdMsg(buf, s.handleResponse); err != nil {
				s.messenger.ReturnMsgBuffer(&buf)
				if s.checkAndSetState(index, StateWaitingForResponse, StateNeedsRetrigger) {
					s.logger.Debug("sequence %v send refused (%v), retrying", index, err)
				}
			}
			return true
		case CmdAbort:
			s.logger.Debug("sequence %v aborted by %v", index, step.Name)
			inst.index = inst.table.end(inst.index)
			inst.result = ResultAbortedInternal
		default:
			s.logger.Error(abcc.ParameterNotValid, uint32(status), "bad return value from command builder (%v)", status)
			inst.index = inst.table.end(inst.index)
			inst.result = ResultAbortedInternal
		}
	}

	// End of sequence, free the buffer before telling the owner
	s.messenger.ReturnMsgBuffer(&buf)
	s.mu.Lock()
	done, ctx, result := inst.done, inst.ctx, inst.result
	s.reset(inst)
	s.mu.Unlock()
	s.logger.Debug("sequence %v done : %v", index, result)
	if done != nil {
		done(result, ctx)
	}
	return true
}

// handleResponse is the response handler of every command sent by the
// sequencer
func (s *Sequencer) handleResponse(buf memory.Buffer) {
	s.mu.Lock()
	index := -1
	for i := range s.instances {
		inst := &s.instances[i]
		if inst.table != nil && inst.state == StateWaitingForResponse && inst.sourceId == buf.SourceId {
			index = i
			break
		}
	}
	if index < 0 {
		s.mu.Unlock()
		s.logger.Debug("no sequence waiting for source id %v", buf.SourceId)
		return
	}
	inst := &s.instances[index]
	s.setState(inst, StateBusy)
	s.mu.Unlock()

	step := inst.table[inst.index]
	if step.Response != nil {
		s.logger.Debug("sequence %v -> %v response", index, step.Name)
		switch status := step.Response(buf, inst.ctx); status {
		case RespExecNext:
			inst.index++
		case RespExecCurrent:
			s.logger.Debug("sequence %v executing %v again", index, step.Name)
		case RespAbort:
			s.logger.Debug("sequence %v aborted by %v", index, step.Name)
			inst.index = inst.table.end(inst.index)
			inst.result = ResultAbortedInternal
		default:
			s.logger.Error(abcc.ParameterNotValid, uint32(status), "bad return value from response handler (%v)", status)
			inst.index = inst.table.end(inst.index)
			inst.result = ResultAbortedInternal
		}
	} else {
		inst.index++
	}
	if s.messenger.MsgBufferStatus(buf) != memory.StatusInApplHandler {
		// Kept by the response handler
		buf = s.messenger.GetCmdMsgBuffer()
	}
	s.execute(index, buf)
}

// Abort stops a sequence, its done callback is called with
// [ResultAbortedExternal]. The zero Handle aborts every sequence. A
// sequence can not be aborted from its own callbacks.
func (s *Sequencer) Abort(h Handle) error {
	if h.IsZero() {
		for i := range s.instances {
			s.doAbort(i, 0)
		}
		return nil
	}
	if h.index < 0 || h.index >= len(s.instances) || !s.doAbort(h.index, h.gen) {
		return abcc.ParameterNotValid
	}
	return nil
}

// doAbort aborts the sequence at index if it is active and, unless gen
// is 0, still of generation gen. It returns false if nothing was aborted.
func (s *Sequencer) doAbort(index int, gen uint32) bool {
	s.mu.Lock()
	inst := &s.instances[index]
	switch {
	case inst.table == nil || (gen != 0 && inst.gen != gen):
		s.mu.Unlock()
		return false
	case inst.state == StateBusy:
		s.mu.Unlock()
		s.logger.Fatal(abcc.IncorrectState, uint32(inst.state), "abort of busy sequence %v", index)
		return false
	}
	releaseId := inst.state == StateWaitingForResponse
	sourceId := inst.sourceId
	done, ctx := inst.done, inst.ctx
	s.reset(inst)
	s.mu.Unlock()

	s.logger.Debug("sequence %v aborted", index)
	if releaseId {
		s.messenger.ReleaseSourceId(sourceId)
	}
	if done != nil {
		done(ResultAbortedExternal, ctx)
	}
	return true
}

// Exec retries the sequences that could not get a message buffer
func (s *Sequencer) Exec() {
	s.mu.Lock()
	pending := s.retrigger
	s.mu.Unlock()
	if pending == 0 {
		return
	}
	var buf memory.Buffer
	for i := range s.instances {
		if !s.checkAndSetState(i, StateNeedsRetrigger, StateBusy) {
			continue
		}
		inst := &s.instances[i]
		if inst.retries < ^uint16(0) {
			inst.retries++
		}
		if inst.retries == s.maxRetries+1 {
			s.logger.Warning(abcc.CmdSeqRetryLimit, uint32(i), "command sequence %v retry limit reached", i)
		}
		if buf.IsNil() {
			buf = s.messenger.GetCmdMsgBuffer()
		}
		if s.execute(i, buf) {
			buf = memory.Buffer{}
		}
	}
	if !buf.IsNil() {
		s.messenger.ReturnMsgBuffer(&buf)
	}
}

// State returns the state of the sequence referenced by h
func (s *Sequencer) State(h Handle) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.index < 0 || h.index >= len(s.instances) || s.instances[h.index].gen != h.gen {
		return StateNotStarted
	}
	return s.instances[h.index].state
}

// NumNeedsRetrigger returns the number of sequences waiting for a buffer
func (s *Sequencer) NumNeedsRetrigger() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrigger
}

// countRetrigger derives the retrigger count from the instances
func (s *Sequencer) countRetrigger() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, inst := range s.instances {
		if inst.state == StateNeedsRetrigger {
			count++
		}
	}
	return count
}
