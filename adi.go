package abcc

import "sort"

// Process data direction of a map entry
type Direction uint8

const (
	DirectionRead  Direction = 0 // module to application
	DirectionWrite Direction = 1 // application to module
)

const (
	// MapPadAdi is used as ADI instance of a padding map entry
	MapPadAdi uint16 = 0xFFFF
	// MapAllElements maps every element of the ADI starting at index 0
	MapAllElements uint8 = 0xFF
)

// StructElement describes one member of a structured ADI
type StructElement struct {
	DataType    uint8
	NumElements uint16
}

// AdiEntry describes an application data instance that can be mapped
// to process data.
type AdiEntry struct {
	Instance    uint16
	Name        string
	DataType    uint8
	NumElements uint8
	Access      uint8
	Struct      []StructElement
}

// MapEntry is one entry of the default process data map. For padding
// entries Instance is [MapPadAdi] and NumElements is the number of bits.
type MapEntry struct {
	Instance     uint16
	Direction    Direction
	NumElements  uint8
	ElementStart uint8
}

// MapSizeInBits returns the number of process data bits used when
// mapping numElem elements starting at start.
func (adi *AdiEntry) MapSizeInBits(numElem uint8, start uint8) uint16 {
	if len(adi.Struct) == 0 {
		return DataTypeSizeInBits(adi.DataType) * uint16(numElem)
	}
	var size uint16
	for i := int(start); i < int(start)+int(numElem) && i < len(adi.Struct); i++ {
		size += DataTypeSizeInBits(adi.Struct[i].DataType)
	}
	return size
}

// SortAdiEntries orders entries by instance number, lookups rely on it.
func SortAdiEntries(entries []AdiEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Instance < entries[j].Instance
	})
}

// FindAdi returns the index of instance in entries sorted by instance,
// or -1.
func FindAdi(entries []AdiEntry, instance uint16) int {
	if len(entries) == 0 {
		return -1
	}
	low := 0
	high := len(entries) - 1
	for low != high {
		mid := low + (high-low+1)/2
		if entries[mid].Instance > instance {
			high = mid - 1
		} else {
			low = mid
		}
	}
	if entries[low].Instance != instance {
		return -1
	}
	return low
}
