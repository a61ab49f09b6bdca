package cmdseq

import (
	"testing"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/internal/loopback"
	"github.com/samsamfire/goabcc/pkg/link"
	"github.com/samsamfire/goabcc/pkg/memory"
	"github.com/stretchr/testify/assert"
)

type bench struct {
	pool      *memory.Pool
	link      *link.Link
	transport *loopback.Transport
	seq       *Sequencer
}

func newBench(t *testing.T, slots int, instances int) *bench {
	t.Helper()
	pool := memory.NewPool(slots, 16, nil)
	transport := loopback.New()
	l := link.NewLink(pool, transport, 2, 2, nil)
	return &bench{pool: pool, link: l, transport: transport, seq: NewSequencer(l, instances, 3, nil)}
}

// respond answers every written command and dispatches the responses the
// way the driver does. Returns the number of responses routed.
func (b *bench) respond() int {
	for _, cmd := range b.transport.Written() {
		b.transport.Respond(cmd, []byte{0})
	}
	routed := 0
	for {
		buf := b.link.ReadMessage()
		if buf.IsNil() {
			return routed
		}
		b.pool.SetStatus(buf, memory.StatusInApplHandler)
		if handler := b.link.GetHandler(buf.SourceId); handler != nil {
			handler(buf)
			routed++
		}
		if b.pool.Status(buf) == memory.StatusInApplHandler {
			b.link.ReturnMsgBuffer(&buf)
		}
	}
}

func (b *bench) checkRetrigger(t *testing.T) {
	t.Helper()
	assert.Equal(t, b.seq.countRetrigger(), b.seq.NumNeedsRetrigger())
	assert.GreaterOrEqual(t, b.seq.NumNeedsRetrigger(), 0)
}

func (b *bench) send(attribute uint8) CommandFunc {
	return func(buf memory.Buffer, ctx any) CmdStatus {
		buf.GetAttribute(abcc.ObjAnybus, 1, attribute, b.link.NewSourceId())
		return CmdSend
	}
}

type doneRecorder struct {
	calls   int
	results []Result
}

func (d *doneRecorder) done(result Result, ctx any) {
	d.calls++
	d.results = append(d.results, result)
}

func TestTwoStepsComplete(t *testing.T) {
	b := newBench(t, 4, 2)
	respA, respB := 0, 0
	table := Table{
		{Name: "CmdA", Command: b.send(1), Response: func(buf memory.Buffer, ctx any) RespStatus { respA++; return RespExecNext }},
		{Name: "CmdB", Command: b.send(2), Response: func(buf memory.Buffer, ctx any) RespStatus { respB++; return RespExecNext }},
		{},
	}
	rec := &doneRecorder{}
	h, err := b.seq.Add(table, rec.done, nil)
	assert.Nil(t, err)
	assert.Equal(t, StateWaitingForResponse, b.seq.State(h))

	deliveries := 0
	for rec.calls == 0 && deliveries < 10 {
		deliveries += b.respond()
	}
	assert.Equal(t, 2, deliveries)
	assert.Equal(t, 1, respA)
	assert.Equal(t, 1, respB)
	assert.Equal(t, []Result{ResultCompleted}, rec.results)
	assert.Equal(t, StateNotStarted, b.seq.State(h))
	assert.Equal(t, 4, b.pool.Available())
	b.checkRetrigger(t)
}

func TestExecuteCurrentRepeatsStep(t *testing.T) {
	b := newBench(t, 4, 2)
	respA, respB := 0, 0
	table := Table{
		{Name: "CmdA", Command: b.send(1), Response: func(buf memory.Buffer, ctx any) RespStatus {
			respA++
			if respA <= 3 {
				return RespExecCurrent
			}
			return RespExecNext
		}},
		{Name: "CmdB", Command: b.send(2), Response: func(buf memory.Buffer, ctx any) RespStatus { respB++; return RespExecNext }},
	}
	rec := &doneRecorder{}
	_, err := b.seq.Add(table, rec.done, nil)
	assert.Nil(t, err)
	for i := 0; i < 10 && rec.calls == 0; i++ {
		b.respond()
	}
	assert.Equal(t, 4, respA)
	assert.Equal(t, 1, respB)
	assert.Equal(t, []Result{ResultCompleted}, rec.results)
}

func TestSkipAndNilResponse(t *testing.T) {
	b := newBench(t, 4, 2)
	skipped := 0
	table := Table{
		{Name: "Skip", Command: func(buf memory.Buffer, ctx any) CmdStatus { skipped++; return CmdSkip }},
		{Name: "FireAndForget", Command: b.send(1)},
		{},
		{Name: "NeverReached", Command: func(buf memory.Buffer, ctx any) CmdStatus {
			t.Fatal("builder after terminator called")
			return CmdSend
		}},
	}
	rec := &doneRecorder{}
	_, err := b.seq.Add(table, rec.done, "ctx")
	assert.Nil(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, b.respond())
	assert.Equal(t, []Result{ResultCompleted}, rec.results)
}

func TestBuilderAbort(t *testing.T) {
	b := newBench(t, 4, 2)
	called := false
	table := Table{
		{Name: "Abort", Command: func(buf memory.Buffer, ctx any) CmdStatus { return CmdAbort }},
		{Name: "After", Command: func(buf memory.Buffer, ctx any) CmdStatus { called = true; return CmdSend }},
	}
	rec := &doneRecorder{}
	_, err := b.seq.Add(table, rec.done, nil)
	assert.Nil(t, err)
	assert.False(t, called)
	assert.Equal(t, []Result{ResultAbortedInternal}, rec.results)
	assert.Equal(t, 4, b.pool.Available())
}

func TestResponseAbort(t *testing.T) {
	b := newBench(t, 4, 2)
	table := Table{
		{Name: "CmdA", Command: b.send(1), Response: func(buf memory.Buffer, ctx any) RespStatus { return RespAbort }},
		{Name: "CmdB", Command: b.send(2)},
	}
	rec := &doneRecorder{}
	_, _ = b.seq.Add(table, rec.done, nil)
	assert.Equal(t, 1, b.respond())
	assert.Equal(t, []Result{ResultAbortedInternal}, rec.results)
	assert.Len(t, b.transport.Written(), 0)
}

func TestAddErrors(t *testing.T) {
	b := newBench(t, 4, 1)
	_, err := b.seq.Add(nil, nil, nil)
	assert.Equal(t, abcc.ParameterNotValid, err)

	table := Table{{Name: "CmdA", Command: b.send(1)}}
	_, err = b.seq.Add(table, nil, nil)
	assert.Nil(t, err)
	_, err = b.seq.Add(table, nil, nil)
	assert.Equal(t, abcc.OutOfCmdSeqResources, err)
}

func TestRetriggerWhenPoolEmpty(t *testing.T) {
	b := newBench(t, 2, 2)
	held1 := b.pool.Allocate()
	held2 := b.pool.Allocate()
	sent := 0
	table := Table{
		{Name: "CmdA", Command: func(buf memory.Buffer, ctx any) CmdStatus {
			sent++
			buf.GetAttribute(abcc.ObjAnybus, 1, 1, b.link.NewSourceId())
			return CmdSend
		}},
	}
	rec := &doneRecorder{}
	h, err := b.seq.Add(table, rec.done, nil)
	assert.Nil(t, err)
	assert.Equal(t, StateNeedsRetrigger, b.seq.State(h))
	assert.Equal(t, 1, b.seq.NumNeedsRetrigger())
	b.checkRetrigger(t)

	// Still nothing to allocate
	b.seq.Exec()
	assert.Equal(t, StateNeedsRetrigger, b.seq.State(h))
	assert.Equal(t, 0, sent)
	b.checkRetrigger(t)

	b.pool.Free(&held1)
	b.seq.Exec()
	assert.Equal(t, 1, sent)
	assert.Equal(t, StateWaitingForResponse, b.seq.State(h))
	assert.Equal(t, 0, b.seq.NumNeedsRetrigger())
	b.checkRetrigger(t)

	b.pool.Free(&held2)
	assert.Equal(t, 1, b.respond())
	assert.Equal(t, []Result{ResultCompleted}, rec.results)
}

func TestRetryLimitKeepsRetrying(t *testing.T) {
	b := newBench(t, 1, 1)
	held := b.pool.Allocate()
	table := Table{{Name: "CmdA", Command: b.send(1)}}
	h, _ := b.seq.Add(table, nil, nil)
	for i := 0; i < 10; i++ {
		b.seq.Exec()
	}
	assert.Equal(t, StateNeedsRetrigger, b.seq.State(h))
	b.pool.Free(&held)
	b.seq.Exec()
	assert.Equal(t, StateWaitingForResponse, b.seq.State(h))
}

func TestSendRefusedRetriggers(t *testing.T) {
	b := newBench(t, 4, 2)
	// Source id 7 is already waiting for a response
	assert.Nil(t, b.link.MapHandler(7, func(buf memory.Buffer) {}))
	table := Table{{Name: "CmdA", Command: func(buf memory.Buffer, ctx any) CmdStatus {
		buf.GetAttribute(abcc.ObjAnybus, 1, 1, 7)
		return CmdSend
	}}}
	h, err := b.seq.Add(table, nil, nil)
	assert.Nil(t, err)
	assert.Equal(t, StateNeedsRetrigger, b.seq.State(h))
	assert.Equal(t, 4, b.pool.Available())
	b.checkRetrigger(t)

	b.link.ReleaseSourceId(7)
	b.seq.Exec()
	assert.Equal(t, StateWaitingForResponse, b.seq.State(h))
	b.checkRetrigger(t)
}

func TestAbortWaiting(t *testing.T) {
	b := newBench(t, 4, 2)
	table := Table{{Name: "CmdA", Command: b.send(1)}}
	rec := &doneRecorder{}
	h, _ := b.seq.Add(table, rec.done, nil)
	written := b.transport.Written()
	assert.Len(t, written, 1)
	sourceId := written[0].SourceId
	assert.True(t, b.link.IsSrcIdUsed(sourceId))

	assert.Nil(t, b.seq.Abort(h))
	assert.False(t, b.link.IsSrcIdUsed(sourceId))
	assert.Equal(t, []Result{ResultAbortedExternal}, rec.results)

	// Stale handle
	assert.Equal(t, abcc.ParameterNotValid, b.seq.Abort(h))
	// Late response is dropped
	b.transport.Respond(written[0], nil)
	assert.Equal(t, 0, b.respond())
	assert.Equal(t, 1, rec.calls)
}

func TestAbortAfterSlotReused(t *testing.T) {
	b := newBench(t, 4, 1)
	table := Table{{Name: "CmdA", Command: b.send(1)}}
	first := &doneRecorder{}
	h1, err := b.seq.Add(table, first.done, nil)
	assert.Nil(t, err)
	b.respond()
	assert.Equal(t, []Result{ResultCompleted}, first.results)

	second := &doneRecorder{}
	h2, err := b.seq.Add(table, second.done, nil)
	assert.Nil(t, err)
	assert.Equal(t, h1.index, h2.index)

	// The old handle does not reach the sequence now using its slot
	assert.Equal(t, abcc.ParameterNotValid, b.seq.Abort(h1))
	assert.Equal(t, StateWaitingForResponse, b.seq.State(h2))
	assert.Zero(t, second.calls)
	assert.Equal(t, abcc.ParameterNotValid, b.seq.Abort(Handle{index: 5, gen: 1}))

	assert.Nil(t, b.seq.Abort(h2))
	assert.Equal(t, []Result{ResultAbortedExternal}, second.results)
	assert.Equal(t, []Result{ResultCompleted}, first.results)
	b.checkRetrigger(t)
}

func TestAbortAll(t *testing.T) {
	b := newBench(t, 2, 3)
	table := Table{{Name: "CmdA", Command: b.send(1)}}
	rec1, rec2, rec3 := &doneRecorder{}, &doneRecorder{}, &doneRecorder{}
	b.seq.Add(table, rec1.done, nil)
	b.seq.Add(table, rec2.done, nil)
	// No credit left, this one waits for a buffer
	h3, _ := b.seq.Add(table, rec3.done, nil)
	assert.Equal(t, StateNeedsRetrigger, b.seq.State(h3))

	assert.Nil(t, b.seq.Abort(Handle{}))
	for _, rec := range []*doneRecorder{rec1, rec2, rec3} {
		assert.Equal(t, []Result{ResultAbortedExternal}, rec.results)
	}
	assert.Equal(t, 0, b.seq.NumNeedsRetrigger())
	b.checkRetrigger(t)
}

func TestAbortBusyIsFatal(t *testing.T) {
	b := newBench(t, 4, 1)
	var h Handle
	table := Table{{Name: "CmdA", Command: func(buf memory.Buffer, ctx any) CmdStatus {
		_ = b.seq.Abort(h)
		return CmdSend
	}}}
	// Handle of the first instance to be allocated
	h = Handle{index: 0, gen: b.seq.instances[0].gen}
	assert.Panics(t, func() { b.seq.Add(table, nil, nil) })
}
