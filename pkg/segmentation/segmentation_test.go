package segmentation

import (
	"testing"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/memory"
	"github.com/stretchr/testify/assert"
)

type segment struct {
	payload []byte
	cmdExt0 uint8
	cmdExt1 uint8
	isCmd   bool
}

type fakeSender struct {
	sent []segment
	err  error
}

func (f *fakeSender) WriteWithNotification(buf memory.Buffer, onSent func()) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, segment{
		payload: append([]byte{}, buf.Payload()...),
		cmdExt0: buf.CmdExt0,
		cmdExt1: buf.CmdExt1,
		isCmd:   buf.IsCommand(),
	})
	if onSent != nil {
		onSent()
	}
	return nil
}

func request(pool *memory.Pool, ext1 uint8) memory.Buffer {
	buf := pool.Allocate()
	buf.SetHeader(abcc.ObjApplicationData, 3, 0, abcc.CmdGetAttribute, 0, 1)
	buf.CmdExt1 = ext1
	return buf
}

func TestSegmentsFromFirstBlock(t *testing.T) {
	pool := memory.NewPool(4, 8, nil)
	sender := &fakeSender{}
	h := NewHandler(sender, 1, 4, nil)
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	doneCount := 0

	err := h.StartServerResponse(request(pool, abcc.CmdExt1SegFirst), 0x42, payload, nil, func(ctx any) {
		doneCount++
		assert.Equal(t, "ctx", ctx)
	}, "ctx")
	assert.Nil(t, err)
	assert.Equal(t, 1, h.Active())
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0, 1, 2, 3}, sender.sent[0].payload)
	assert.False(t, sender.sent[0].isCmd)
	assert.EqualValues(t, 0x42, sender.sent[0].cmdExt0)
	assert.Equal(t, abcc.CmdExt1SegFirst, sender.sent[0].cmdExt1)

	assert.True(t, h.HandleSegmentAck(request(pool, 0)))
	assert.Equal(t, []byte{4, 5, 6, 7}, sender.sent[1].payload)
	assert.Equal(t, 0, doneCount)

	assert.True(t, h.HandleSegmentAck(request(pool, 0)))
	assert.Equal(t, []byte{8, 9}, sender.sent[2].payload)
	assert.Equal(t, abcc.CmdExt1SegLast, sender.sent[2].cmdExt1)
	assert.Equal(t, 1, doneCount)
	assert.Equal(t, 0, h.Active())

	// Not part of any session anymore
	assert.False(t, h.HandleSegmentAck(request(pool, 0)))
	assert.Equal(t, 1, doneCount)
}

func TestSegmentsFromNextBlock(t *testing.T) {
	pool := memory.NewPool(4, 8, nil)
	sender := &fakeSender{}
	h := NewHandler(sender, 1, 4, nil)
	blocks := [][]byte{{3, 4, 5}, {6}}
	next := func(ctx any) []byte {
		if len(blocks) == 0 {
			return nil
		}
		b := blocks[0]
		blocks = blocks[1:]
		return b
	}
	doneCount := 0
	done := func(ctx any) { doneCount++ }

	assert.Nil(t, h.StartServerResponse(request(pool, abcc.CmdExt1SegFirst), 0, []byte{1, 2}, next, done, nil))
	assert.Equal(t, []byte{1, 2, 3, 4}, sender.sent[0].payload)
	assert.True(t, h.HandleSegmentAck(request(pool, 0)))
	// Last block detected by prefetching
	assert.Equal(t, []byte{5, 6}, sender.sent[1].payload)
	assert.Equal(t, abcc.CmdExt1SegLast, sender.sent[1].cmdExt1)
	assert.Equal(t, 1, doneCount)
}

func TestSinglePayloadSegment(t *testing.T) {
	pool := memory.NewPool(2, 8, nil)
	sender := &fakeSender{}
	h := NewHandler(sender, 1, 8, nil)
	doneCount := 0
	assert.Nil(t, h.StartServerResponse(request(pool, abcc.CmdExt1SegFirst), 0, []byte{1}, nil, func(ctx any) { doneCount++ }, nil))
	assert.Equal(t, abcc.CmdExt1SegFirst|abcc.CmdExt1SegLast, sender.sent[0].cmdExt1)
	assert.Equal(t, 1, doneCount)
	assert.Equal(t, 0, h.Active())
}

func TestAbortBySender(t *testing.T) {
	pool := memory.NewPool(4, 8, nil)
	sender := &fakeSender{}
	h := NewHandler(sender, 1, 2, nil)
	doneCount := 0
	assert.Nil(t, h.StartServerResponse(request(pool, abcc.CmdExt1SegFirst), 0, []byte{1, 2, 3, 4, 5}, nil, func(ctx any) { doneCount++ }, nil))
	assert.True(t, h.HandleSegmentAck(request(pool, abcc.CmdExt1SegAbort)))
	assert.Equal(t, 1, doneCount)
	assert.Equal(t, 0, h.Active())
	assert.Len(t, sender.sent[1].payload, 0)
}

func TestSessionsExhausted(t *testing.T) {
	pool := memory.NewPool(4, 8, nil)
	sender := &fakeSender{}
	h := NewHandler(sender, 1, 2, nil)
	assert.Nil(t, h.StartServerResponse(request(pool, abcc.CmdExt1SegFirst), 0, []byte{1, 2, 3}, nil, nil, nil))
	other := request(pool, abcc.CmdExt1SegFirst)
	other.Instance = 4
	assert.Equal(t, abcc.NoResources, h.StartServerResponse(other, 0, []byte{1, 2, 3}, nil, nil, nil))
}

func TestUnrelatedCommand(t *testing.T) {
	pool := memory.NewPool(4, 8, nil)
	h := NewHandler(&fakeSender{}, 1, 2, nil)
	assert.Nil(t, h.StartServerResponse(request(pool, abcc.CmdExt1SegFirst), 0, []byte{1, 2, 3}, nil, nil, nil))
	other := request(pool, 0)
	other.DestObj = abcc.ObjNetwork
	assert.False(t, h.HandleSegmentAck(other))
	assert.Equal(t, 1, h.Active())
}
