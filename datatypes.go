package abcc

import log "github.com/sirupsen/logrus"

// ADI data types
const (
	TypeBool   uint8 = 0
	TypeSint8  uint8 = 1
	TypeSint16 uint8 = 2
	TypeSint32 uint8 = 3
	TypeUint8  uint8 = 4
	TypeUint16 uint8 = 5
	TypeUint32 uint8 = 6
	TypeChar   uint8 = 7
	TypeEnum   uint8 = 8
	TypeBits8  uint8 = 9
	TypeBits16 uint8 = 10
	TypeBits32 uint8 = 11
	TypeOctet  uint8 = 12
	TypeSint64 uint8 = 16
	TypeUint64 uint8 = 17
	TypeFloat  uint8 = 18
	TypeDouble uint8 = 19
	TypePad0   uint8 = 20
	TypePad1   uint8 = 21
	TypePad8   uint8 = 28
	TypePad9   uint8 = 29
	TypePad16  uint8 = 36
	TypeBool1  uint8 = 37
	TypeBit1   uint8 = 38
	TypeBit7   uint8 = 44
)

var DataTypeNameMap = map[uint8]string{
	TypeBool:   "BOOL",
	TypeSint8:  "SINT8",
	TypeSint16: "SINT16",
	TypeSint32: "SINT32",
	TypeUint8:  "UINT8",
	TypeUint16: "UINT16",
	TypeUint32: "UINT32",
	TypeChar:   "CHAR",
	TypeEnum:   "ENUM",
	TypeBits8:  "BITS8",
	TypeBits16: "BITS16",
	TypeBits32: "BITS32",
	TypeOctet:  "OCTET",
	TypeSint64: "SINT64",
	TypeUint64: "UINT64",
	TypeFloat:  "FLOAT",
	TypeDouble: "DOUBLE",
	TypeBool1:  "BOOL1",
}

// DataTypeFromName returns the data type for names such as "UINT16",
// "PAD3" or "BIT5".
func DataTypeFromName(name string) (uint8, bool) {
	for dataType, typeName := range DataTypeNameMap {
		if typeName == name {
			return dataType, true
		}
	}
	var n uint8
	var prefix string
	switch {
	case len(name) > 3 && name[:3] == "PAD":
		prefix = "PAD"
	case len(name) > 3 && name[:3] == "BIT":
		prefix = "BIT"
	default:
		return 0, false
	}
	for _, c := range name[3:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint8(c-'0')
	}
	if prefix == "PAD" && n <= 16 {
		return TypePad0 + n, true
	}
	if prefix == "BIT" && n >= 1 && n <= 7 {
		return TypeBit1 + n - 1, true
	}
	return 0, false
}

func IsPadType(dataType uint8) bool {
	return dataType >= TypePad0 && dataType <= TypePad16
}

func IsBitType(dataType uint8) bool {
	return dataType >= TypeBit1 && dataType <= TypeBit7
}

// DataTypeSize returns the size in bytes of a data type, 0 if unsupported
func DataTypeSize(dataType uint8) uint8 {
	switch dataType {
	case TypeUint8, TypeBool, TypeSint8, TypeEnum, TypeBits8, TypeChar, TypeOctet:
		return 1
	case TypeUint16, TypeBits16, TypeSint16:
		return 2
	case TypeUint32, TypeSint32, TypeBits32, TypeFloat:
		return 4
	case TypeDouble, TypeSint64, TypeUint64:
		return 8
	case TypeBool1:
		return 1
	case TypePad0:
		return 0
	}
	switch {
	case IsBitType(dataType):
		return 1
	case dataType >= TypePad1 && dataType <= TypePad8:
		return 1
	case dataType >= TypePad9 && dataType <= TypePad16:
		return 2
	}
	log.Warnf("[ABCC] unsupported data type %v", dataType)
	return 0
}

// DataTypeSizeInBits returns the size in bits of a data type
func DataTypeSizeInBits(dataType uint8) uint16 {
	switch {
	case IsPadType(dataType):
		return uint16(dataType - TypePad0)
	case IsBitType(dataType):
		return uint16(dataType-TypeBit1) + 1
	case dataType == TypeBool1:
		return 1
	}
	return uint16(DataTypeSize(dataType)) * 8
}
