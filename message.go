package abcc

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of an encoded message header
const HeaderSize = 9

// Message is a command or response exchanged with the module.
// Data is allocated once with the maximum payload size and DataSize
// tells how much of it is in use.
type Message struct {
	SourceId uint8
	DestObj  uint8
	Instance uint16
	Cmd      uint8
	CmdExt0  uint8
	CmdExt1  uint8
	DataSize uint16
	Data     []byte
}

// Create a message able to carry maxDataSize payload bytes
func NewMessage(maxDataSize int) *Message {
	return &Message{Data: make([]byte, maxDataSize)}
}

func (m *Message) String() string {
	return fmt.Sprintf("src: %d | obj: x%x | inst: %d | cmd: x%x | ext: x%x x%x | size: %d",
		m.SourceId, m.DestObj, m.Instance, m.Cmd, m.CmdExt0, m.CmdExt1, m.DataSize)
}

// IsCommand is true when the C bit is set
func (m *Message) IsCommand() bool {
	return m.Cmd&HeaderCBit != 0
}

// IsError is true when the E bit is set
func (m *Message) IsError() bool {
	return m.Cmd&HeaderEBit != 0
}

// Command returns the command code without the C and E bits
func (m *Message) Command() uint8 {
	return m.Cmd & HeaderCmdBits
}

// ErrorCode returns the protocol error carried by an error response
func (m *Message) ErrorCode() ProtocolError {
	if m.DataSize == 0 || len(m.Data) == 0 {
		return ErrNone
	}
	return ProtocolError(m.Data[0])
}

// Verify returns an error if the E bit is set
func (m *Message) Verify() error {
	if m.IsError() {
		return RespMsgEBitSet
	}
	return nil
}

// Payload returns the used part of the payload region
func (m *Message) Payload() []byte {
	return m.Data[:m.DataSize]
}

// SetPayload copies b into the payload region
func (m *Message) SetPayload(b []byte) error {
	if len(b) > len(m.Data) {
		return ErrMsgTooLarge
	}
	copy(m.Data, b)
	m.DataSize = uint16(len(b))
	return nil
}

// Reset clears the header, the payload region is kept as is.
func (m *Message) Reset() {
	data := m.Data
	*m = Message{Data: data}
}

// CopyFrom copies header and used payload of src into m
func (m *Message) CopyFrom(src *Message) error {
	if int(src.DataSize) > len(m.Data) {
		return ErrMsgTooLarge
	}
	data := m.Data
	*m = *src
	m.Data = data
	copy(m.Data, src.Data[:src.DataSize])
	return nil
}

// SetHeader fills a command header. The attribute is carried in command
// extension 0.
func (m *Message) SetHeader(obj uint8, instance uint16, attribute uint8, command uint8, dataSize uint16, sourceId uint8) {
	m.SourceId = sourceId
	m.DestObj = obj
	m.Instance = instance
	m.Cmd = HeaderCBit | (command & HeaderCmdBits)
	m.CmdExt0 = attribute
	m.CmdExt1 = 0
	m.DataSize = dataSize
}

// GetAttribute builds a get attribute command
func (m *Message) GetAttribute(obj uint8, instance uint16, attribute uint8, sourceId uint8) {
	m.SetHeader(obj, instance, attribute, CmdGetAttribute, 0, sourceId)
}

// SetByteAttribute builds a set attribute command with a single byte value
func (m *Message) SetByteAttribute(obj uint8, instance uint16, attribute uint8, value uint8, sourceId uint8) {
	m.SetHeader(obj, instance, attribute, CmdSetAttribute, 1, sourceId)
	m.Data[0] = value
}

// SetErrorResponse converts a received command into an error response
func (m *Message) SetErrorResponse(code ProtocolError) {
	m.Cmd = (m.Cmd &^ HeaderCBit) | HeaderEBit
	m.Data[0] = uint8(code)
	m.DataSize = 1
}

// SetResponse converts a received command into a response carrying dataSize bytes
func (m *Message) SetResponse(dataSize uint16) {
	m.Cmd &^= HeaderCBit | HeaderEBit
	m.DataSize = dataSize
}

func (m *Message) checkOffset(offset int, size int) error {
	if offset < 0 || offset+size > len(m.Data) {
		return fmt.Errorf("offset %d (+%d) beyond %d byte buffer : %w", offset, size, len(m.Data), ErrMsgTooLarge)
	}
	return nil
}

// Payload accessors, the protocol transfers payload data LSB first.

func (m *Message) Data8(offset int) (uint8, error) {
	if err := m.checkOffset(offset, 1); err != nil {
		return 0, err
	}
	return m.Data[offset], nil
}

func (m *Message) Data16(offset int) (uint16, error) {
	if err := m.checkOffset(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.Data[offset:]), nil
}

func (m *Message) Data32(offset int) (uint32, error) {
	if err := m.checkOffset(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.Data[offset:]), nil
}

func (m *Message) SetData8(value uint8, offset int) error {
	if err := m.checkOffset(offset, 1); err != nil {
		return err
	}
	m.Data[offset] = value
	return nil
}

func (m *Message) SetData16(value uint16, offset int) error {
	if err := m.checkOffset(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.Data[offset:], value)
	return nil
}

func (m *Message) SetData32(value uint32, offset int) error {
	if err := m.checkOffset(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.Data[offset:], value)
	return nil
}

// Encode writes header and payload into dst using order for the 16 bit
// header fields and returns the number of bytes written.
func (m *Message) Encode(dst []byte, order binary.ByteOrder) (int, error) {
	size := HeaderSize + int(m.DataSize)
	if len(dst) < size || int(m.DataSize) > len(m.Data) {
		return 0, ErrMsgTooLarge
	}
	dst[0] = m.SourceId
	dst[1] = m.DestObj
	order.PutUint16(dst[2:], m.Instance)
	dst[4] = m.Cmd
	dst[5] = m.CmdExt0
	dst[6] = m.CmdExt1
	order.PutUint16(dst[7:], m.DataSize)
	copy(dst[HeaderSize:], m.Data[:m.DataSize])
	return size, nil
}

// Decode reads an encoded message from src
func (m *Message) Decode(src []byte, order binary.ByteOrder) error {
	if len(src) < HeaderSize {
		return ErrFrameLength
	}
	dataSize := order.Uint16(src[7:])
	if int(dataSize) > len(m.Data) {
		return ErrMsgTooLarge
	}
	if len(src) < HeaderSize+int(dataSize) {
		return ErrFrameLength
	}
	m.SourceId = src[0]
	m.DestObj = src[1]
	m.Instance = order.Uint16(src[2:])
	m.Cmd = src[4]
	m.CmdExt0 = src[5]
	m.CmdExt1 = src[6]
	m.DataSize = dataSize
	copy(m.Data, src[HeaderSize:HeaderSize+int(dataSize)])
	return nil
}

// MarshalBinary encodes the message with little endian header fields
func (m *Message) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize+int(m.DataSize))
	_, err := m.Encode(buf, binary.LittleEndian)
	return buf, err
}

// UnmarshalBinary decodes a little endian encoded message. The payload
// region is grown if needed.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) >= HeaderSize && len(m.Data) < len(data)-HeaderSize {
		m.Data = make([]byte, len(data)-HeaderSize)
	}
	return m.Decode(data, binary.LittleEndian)
}
