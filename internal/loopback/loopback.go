// Package loopback provides an in-memory message transport for tests.
package loopback

import (
	"sync"

	abcc "github.com/samsamfire/goabcc"
)

// Transport records written messages and returns injected ones
type Transport struct {
	mu            sync.Mutex
	written       []*abcc.Message
	rx            []*abcc.Message
	pending       *abcc.Message
	readyForWrite bool
	readyForCmd   bool
	consume       bool
	onWrite       func(msg *abcc.Message)
}

// New returns a transport that is ready and copies every written message
func New() *Transport {
	return &Transport{readyForWrite: true, readyForCmd: true, consume: true}
}

func clone(msg *abcc.Message) *abcc.Message {
	c := abcc.NewMessage(len(msg.Data))
	_ = c.CopyFrom(msg)
	return c
}

func (t *Transport) SetReadyForWrite(ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readyForWrite = ready
}

func (t *Transport) SetReadyForCmd(ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readyForCmd = ready
}

// SetConsume selects whether written messages are released immediately or
// kept until [Transport.TakeSent]
func (t *Transport) SetConsume(consume bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consume = consume
}

func (t *Transport) IsReadyForWriteMessage() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readyForWrite && t.pending == nil
}

func (t *Transport) IsReadyForCmd() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readyForCmd
}

// SetOnWrite registers a function called with every written message
func (t *Transport) SetOnWrite(onWrite func(msg *abcc.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWrite = onWrite
}

func (t *Transport) WriteMessage(msg *abcc.Message) bool {
	t.mu.Lock()
	t.written = append(t.written, clone(msg))
	if !t.consume {
		t.pending = msg
	}
	consume, onWrite := t.consume, t.onWrite
	t.mu.Unlock()
	if onWrite != nil {
		onWrite(msg)
	}
	return consume
}

func (t *Transport) ReadMessage(dst *abcc.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rx) == 0 {
		return false
	}
	msg := t.rx[0]
	t.rx = t.rx[1:]
	return dst.CopyFrom(msg) == nil
}

// TakeSent returns the message kept by a non consuming write, if any
func (t *Transport) TakeSent() *abcc.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	sent := t.pending
	t.pending = nil
	return sent
}

// Inject queues msg for reading
func (t *Transport) Inject(msg *abcc.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rx = append(t.rx, clone(msg))
}

// Written returns and clears every message written so far
func (t *Transport) Written() []*abcc.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	written := t.written
	t.written = nil
	return written
}

// Respond injects a response to cmd carrying payload
func (t *Transport) Respond(cmd *abcc.Message, payload []byte) {
	rsp := clone(cmd)
	if len(rsp.Data) < len(payload) {
		rsp.Data = make([]byte, len(payload))
	}
	_ = rsp.SetPayload(payload)
	rsp.SetResponse(uint16(len(payload)))
	t.Inject(rsp)
}

// RespondError injects an error response to cmd
func (t *Transport) RespondError(cmd *abcc.Message, code abcc.ProtocolError) {
	rsp := clone(cmd)
	if len(rsp.Data) == 0 {
		rsp.Data = make([]byte, 1)
	}
	rsp.SetErrorResponse(code)
	t.Inject(rsp)
}
