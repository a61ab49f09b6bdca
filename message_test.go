package abcc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageHeaderBuilders(t *testing.T) {
	msg := NewMessage(16)
	msg.GetAttribute(ObjNetwork, 1, NwIaDataFormat, 7)
	assert.EqualValues(t, 7, msg.SourceId)
	assert.Equal(t, ObjNetwork, msg.DestObj)
	assert.EqualValues(t, 1, msg.Instance)
	assert.True(t, msg.IsCommand())
	assert.False(t, msg.IsError())
	assert.Equal(t, CmdGetAttribute, msg.Command())
	assert.Equal(t, NwIaDataFormat, msg.CmdExt0)
	assert.EqualValues(t, 0, msg.DataSize)

	msg.SetByteAttribute(ObjAnybus, 1, AnbIaSetupComplete, 1, 8)
	assert.Equal(t, CmdSetAttribute, msg.Command())
	assert.EqualValues(t, 1, msg.DataSize)
	assert.EqualValues(t, []byte{1}, msg.Payload())
}

func TestMessageErrorResponse(t *testing.T) {
	msg := NewMessage(16)
	msg.GetAttribute(ObjAnybus, 1, AnbIaFwVersion, 3)
	assert.Nil(t, msg.Verify())
	msg.SetErrorResponse(ErrUnsupCmd)
	assert.False(t, msg.IsCommand())
	assert.True(t, msg.IsError())
	assert.Equal(t, ErrUnsupCmd, msg.ErrorCode())
	assert.ErrorIs(t, msg.Verify(), RespMsgEBitSet)
}

func TestMessageDataAccessors(t *testing.T) {
	msg := NewMessage(8)
	assert.Nil(t, msg.SetData16(0x1234, 0))
	assert.Nil(t, msg.SetData32(0xAABBCCDD, 2))
	assert.EqualValues(t, []byte{0x34, 0x12, 0xDD, 0xCC, 0xBB, 0xAA}, msg.Data[:6])
	v16, err := msg.Data16(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x1234, v16)
	v32, err := msg.Data32(2)
	assert.Nil(t, err)
	assert.EqualValues(t, 0xAABBCCDD, v32)
	_, err = msg.Data32(6)
	assert.ErrorIs(t, err, ErrMsgTooLarge)
	assert.ErrorIs(t, msg.SetData8(1, 8), ErrMsgTooLarge)
}

func TestMessageEncodeDecode(t *testing.T) {
	msg := NewMessage(32)
	msg.SetHeader(ObjApplicationData, 0x0102, 5, CmdGetAttribute, 0, 9)
	assert.Nil(t, msg.SetPayload([]byte{1, 2, 3}))

	buf := make([]byte, 64)
	n, err := msg.Encode(buf, binary.BigEndian)
	assert.Nil(t, err)
	assert.Equal(t, HeaderSize+3, n)
	assert.EqualValues(t, []byte{9, ObjApplicationData, 0x01, 0x02, HeaderCBit | CmdGetAttribute, 5, 0, 0x00, 0x03, 1, 2, 3}, buf[:n])

	decoded := NewMessage(32)
	assert.Nil(t, decoded.Decode(buf[:n], binary.BigEndian))
	assert.Equal(t, msg.Instance, decoded.Instance)
	assert.Equal(t, msg.Payload(), decoded.Payload())

	_, err = msg.Encode(buf[:4], binary.LittleEndian)
	assert.ErrorIs(t, err, ErrMsgTooLarge)
	assert.ErrorIs(t, decoded.Decode(buf[:4], binary.LittleEndian), ErrFrameLength)

	small := NewMessage(2)
	assert.ErrorIs(t, small.Decode(buf[:n], binary.BigEndian), ErrMsgTooLarge)
}

func TestMessageCopyKeepsRegion(t *testing.T) {
	src := NewMessage(8)
	src.SetHeader(ObjNetwork, 1, 0, CmdSetAttribute, 0, 4)
	_ = src.SetPayload([]byte{5, 6})
	dst := NewMessage(8)
	region := dst.Data
	assert.Nil(t, dst.CopyFrom(src))
	assert.Equal(t, src.SourceId, dst.SourceId)
	assert.EqualValues(t, []byte{5, 6}, dst.Payload())
	dst.Data[0] = 0xFF
	assert.EqualValues(t, 5, src.Data[0])
	assert.Equal(t, &region[0], &dst.Data[0])

	tiny := NewMessage(1)
	assert.ErrorIs(t, tiny.CopyFrom(src), ErrMsgTooLarge)
}
