package abcc

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrTimeout         = errors.New("function timeout")
	ErrNotOpen         = errors.New("transport is not open")
	ErrFrameLength     = errors.New("wrong telegram length")
	ErrCRC             = errors.New("crc does not match")
	ErrMsgTooLarge     = errors.New("message does not fit in buffer")
	ErrUnknownOpMode   = errors.New("unknown operating mode")
)

// ErrorCode identifies a driver level failure. It is reported through
// the [Logger] together with a severity and returned by the public API.
type ErrorCode uint16

const (
	NoError                 ErrorCode = 0
	InternalError           ErrorCode = 1
	LinkCmdQueueFull        ErrorCode = 2
	LinkRespQueueFull       ErrorCode = 3
	OutOfMsgBuffers         ErrorCode = 4
	TryingToFreeNilBuffer   ErrorCode = 5
	IncorrectOperatingMode  ErrorCode = 6
	IncorrectState          ErrorCode = 7
	RespMsgEBitSet          ErrorCode = 8
	WrpdSizeErr             ErrorCode = 9
	RdpdSizeErr             ErrorCode = 10
	RdmsgSizeErr            ErrorCode = 11
	InvalidRespSourceId     ErrorCode = 12
	ModuleNotDetected       ErrorCode = 13
	ParameterNotValid       ErrorCode = 14
	ModuleIdNotSupported    ErrorCode = 15
	DefaultMapErr           ErrorCode = 16
	ErrorInReadMapConfig    ErrorCode = 17
	ErrorInWriteMapConfig   ErrorCode = 18
	IntStatusNotSupported   ErrorCode = 19
	ModCapNotSupported      ErrorCode = 20
	LedStatusNotSupported   ErrorCode = 21
	WrmsgSizeErr            ErrorCode = 22
	MsgBufferCorrupted      ErrorCode = 23
	MsgBufferAlreadyFreed   ErrorCode = 24
	NoResources             ErrorCode = 25
	HwInitFailed            ErrorCode = 26
	RcvCmdSizeExceedsBuffer ErrorCode = 27
	RcvRspSizeExceedsBuffer ErrorCode = 28
	UnexpectedNilPtr        ErrorCode = 29
	OutOfCmdSeqResources    ErrorCode = 30
	SetupFailed             ErrorCode = 31
	PdSizeMismatch          ErrorCode = 32
	ChecksumMismatch        ErrorCode = 33
	UnknownEndian           ErrorCode = 34
	AssertFailed            ErrorCode = 35
	CmdSeqRetryLimit        ErrorCode = 36
)

var ErrorCodeDescriptionMap = map[ErrorCode]string{
	NoError:                 "no error",
	InternalError:           "internal driver error",
	LinkCmdQueueFull:        "command queue is full",
	LinkRespQueueFull:       "response queue is full",
	OutOfMsgBuffers:         "out of message buffers",
	TryingToFreeNilBuffer:   "trying to free a nil buffer",
	IncorrectOperatingMode:  "incorrect operating mode",
	IncorrectState:          "incorrect driver state",
	RespMsgEBitSet:          "error bit set in response message",
	WrpdSizeErr:             "write process data size is too large",
	RdpdSizeErr:             "read process data size is too large",
	RdmsgSizeErr:            "read message size is too large",
	InvalidRespSourceId:     "no handler mapped for response source id",
	ModuleNotDetected:       "module not detected",
	ParameterNotValid:       "invalid parameter",
	ModuleIdNotSupported:    "module id not supported",
	DefaultMapErr:           "default map refers to an unknown ADI",
	ErrorInReadMapConfig:    "error in read process data map",
	ErrorInWriteMapConfig:   "error in write process data map",
	IntStatusNotSupported:   "interrupt status not supported by transport",
	ModCapNotSupported:      "module capability not supported by transport",
	LedStatusNotSupported:   "led status not supported by transport",
	WrmsgSizeErr:            "write message size is too large",
	MsgBufferCorrupted:      "message buffer corrupted",
	MsgBufferAlreadyFreed:   "message buffer already freed",
	NoResources:             "no resources available",
	HwInitFailed:            "hardware initialization failed",
	RcvCmdSizeExceedsBuffer: "received command exceeds max message size",
	RcvRspSizeExceedsBuffer: "received response exceeds max message size",
	UnexpectedNilPtr:        "unexpected nil reference",
	OutOfCmdSeqResources:    "out of command sequence resources",
	SetupFailed:             "setup failed",
	PdSizeMismatch:          "process data size mismatch between host and module",
	ChecksumMismatch:        "checksum mismatch",
	UnknownEndian:           "unknown network endian",
	AssertFailed:            "assertion failed",
	CmdSeqRetryLimit:        "command sequence retry limit reached",
}

func (code ErrorCode) Error() string {
	return fmt.Sprintf("x%x : %s", uint16(code), code.Description())
}

func (code ErrorCode) Description() string {
	description, ok := ErrorCodeDescriptionMap[code]
	if ok {
		return description
	}
	return ErrorCodeDescriptionMap[InternalError]
}

// ProtocolError is the error code carried in the first payload byte of
// an error response (E bit set).
type ProtocolError uint8

const (
	ErrNone                ProtocolError = 0x00
	ErrInvMsgFormat        ProtocolError = 0x02
	ErrUnsupObj            ProtocolError = 0x03
	ErrUnsupInst           ProtocolError = 0x04
	ErrUnsupCmd            ProtocolError = 0x05
	ErrInvCmdExt0          ProtocolError = 0x06
	ErrInvCmdExt1          ProtocolError = 0x07
	ErrAttrNotSetable      ProtocolError = 0x08
	ErrAttrNotGetable      ProtocolError = 0x09
	ErrTooMuchData         ProtocolError = 0x0A
	ErrNotEnoughData       ProtocolError = 0x0B
	ErrOutOfRange          ProtocolError = 0x0C
	ErrInvState            ProtocolError = 0x0D
	ErrNoResources         ProtocolError = 0x0E
	ErrSegFailure          ProtocolError = 0x0F
	ErrSegBufOverflow      ProtocolError = 0x10
	ErrValTooHigh          ProtocolError = 0x11
	ErrValTooLow           ProtocolError = 0x12
	ErrControlledFromOther ProtocolError = 0x13
	ErrMsgChannelTooSmall  ProtocolError = 0x14
	ErrGeneralError        ProtocolError = 0x15
	ErrProtectedAccess     ProtocolError = 0x16
	ErrDataNotAvailable    ProtocolError = 0x17
	ErrObjectSpecific      ProtocolError = 0xFF
)

var ProtocolErrorDescriptionMap = map[ProtocolError]string{
	ErrNone:                "no error",
	ErrInvMsgFormat:        "invalid message format",
	ErrUnsupObj:            "unsupported object",
	ErrUnsupInst:           "unsupported instance",
	ErrUnsupCmd:            "unsupported command",
	ErrInvCmdExt0:          "invalid command extension 0",
	ErrInvCmdExt1:          "invalid command extension 1",
	ErrAttrNotSetable:      "attribute not setable",
	ErrAttrNotGetable:      "attribute not getable",
	ErrTooMuchData:         "too much data",
	ErrNotEnoughData:       "not enough data",
	ErrOutOfRange:          "out of range",
	ErrInvState:            "invalid state",
	ErrNoResources:         "out of resources",
	ErrSegFailure:          "segmentation failure",
	ErrSegBufOverflow:      "segmentation buffer overflow",
	ErrValTooHigh:          "value too high",
	ErrValTooLow:           "value too low",
	ErrControlledFromOther: "controlled from other channel",
	ErrMsgChannelTooSmall:  "message channel too small",
	ErrGeneralError:        "general error",
	ErrProtectedAccess:     "protected access",
	ErrDataNotAvailable:    "data not available",
	ErrObjectSpecific:      "object specific error",
}

func (code ProtocolError) Error() string {
	return fmt.Sprintf("x%x : %s", uint8(code), code.Description())
}

func (code ProtocolError) Description() string {
	description, ok := ProtocolErrorDescriptionMap[code]
	if ok {
		return description
	}
	return ProtocolErrorDescriptionMap[ErrGeneralError]
}
