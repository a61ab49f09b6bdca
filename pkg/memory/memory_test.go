package memory

import (
	"testing"

	abcc "github.com/samsamfire/goabcc"
	"github.com/stretchr/testify/assert"
)

func fatalCode(t *testing.T, fn func()) abcc.ErrorCode {
	t.Helper()
	var code abcc.ErrorCode
	assert.Panics(t, func() {
		defer func() {
			r := recover()
			if fatal, ok := r.(*abcc.FatalError); ok {
				code = fatal.Code
			}
			if r != nil {
				panic(r)
			}
		}()
		fn()
	})
	return code
}

func TestAllocateUntilEmpty(t *testing.T) {
	pool := NewPool(2, 16, nil)
	assert.Equal(t, 2, pool.Available())
	b1 := pool.Allocate()
	b2 := pool.Allocate()
	assert.False(t, b1.IsNil())
	assert.False(t, b2.IsNil())
	assert.NotEqual(t, b1, b2)
	assert.Equal(t, StatusAllocated, pool.Status(b1))
	assert.Len(t, b1.Data, 16)

	b3 := pool.Allocate()
	assert.True(t, b3.IsNil())
	assert.Equal(t, 0, pool.Available())

	pool.Free(&b1)
	assert.True(t, b1.IsNil())
	assert.Equal(t, 1, pool.Available())
}

func TestStatusTransitions(t *testing.T) {
	pool := NewPool(1, 8, nil)
	b := pool.Allocate()
	pool.SetStatus(b, StatusInApplHandler)
	assert.Equal(t, StatusInApplHandler, pool.Status(b))
	pool.SetStatus(b, StatusSent)
	assert.Equal(t, "SENT", pool.Status(b).String())
}

func TestStaleReference(t *testing.T) {
	pool := NewPool(1, 8, nil)
	b := pool.Allocate()
	kept := b
	pool.Free(&b)
	// Slot is reused, old reference must not alias the new owner
	fresh := pool.Allocate()
	assert.Equal(t, kept.Message, fresh.Message)
	assert.Equal(t, StatusFree, pool.Status(kept))
	assert.Equal(t, StatusAllocated, pool.Status(fresh))

	assert.Equal(t, abcc.MsgBufferAlreadyFreed, fatalCode(t, func() { pool.Free(&kept) }))
	assert.Equal(t, abcc.MsgBufferCorrupted, fatalCode(t, func() { pool.SetStatus(kept, StatusOwned) }))
}

func TestDoubleFree(t *testing.T) {
	pool := NewPool(2, 8, nil)
	b := pool.Allocate()
	copyOfB := b
	pool.Free(&b)
	assert.Equal(t, abcc.MsgBufferAlreadyFreed, fatalCode(t, func() { pool.Free(&copyOfB) }))
	assert.Equal(t, 2, pool.Available())
}

func TestForeignBuffer(t *testing.T) {
	pool := NewPool(1, 8, nil)
	foreign := Buffer{Message: abcc.NewMessage(8)}
	assert.Equal(t, abcc.MsgBufferCorrupted, fatalCode(t, func() { pool.Status(foreign) }))
	assert.Equal(t, abcc.MsgBufferCorrupted, fatalCode(t, func() { pool.Free(&foreign) }))
}

func TestFreeNil(t *testing.T) {
	pool := NewPool(1, 8, nil)
	var b Buffer
	assert.NotPanics(t, func() { pool.Free(&b) })
	assert.Equal(t, 1, pool.Available())
}
