package config

import (
	"fmt"
	"os"
	"sort"

	abcc "github.com/samsamfire/goabcc"
	"gopkg.in/yaml.v3"
)

// ---- ADI MAP ----

// AdiMap lists the application data instances and the default process
// data map
type AdiMap struct {
	Adis []AdiConfig `yaml:"adis"`
	Map  []MapConfig `yaml:"map"`
}

type AdiConfig struct {
	Instance uint16         `yaml:"instance"`
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Elements uint8          `yaml:"elements"`
	Access   uint8          `yaml:"access"`
	Struct   []StructConfig `yaml:"struct"`
}

type StructConfig struct {
	Type     string `yaml:"type"`
	Elements uint16 `yaml:"elements"`
}

// MapConfig is one default map entry. Pad entries give the number of
// padding bits and no instance. Elements 0 maps the whole ADI.
type MapConfig struct {
	Instance  uint16 `yaml:"instance"`
	Direction string `yaml:"direction"`
	Elements  uint8  `yaml:"elements"`
	Start     uint8  `yaml:"start"`
	Pad       uint8  `yaml:"pad"`
}

const (
	directionRead  = "read"
	directionWrite = "write"
)

// Load an ADI map file
func LoadAdiMap(path string) (*AdiMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseAdiMap(data)
}

func ParseAdiMap(data []byte) (*AdiMap, error) {
	adiMap := &AdiMap{}
	err := yaml.Unmarshal(data, adiMap)
	if err != nil {
		return nil, err
	}
	return adiMap, nil
}

// Validate checks the ADI map correctness.
// It does not modify the map.
func Validate(adiMap *AdiMap) error {
	adis := make(map[uint16]AdiConfig, len(adiMap.Adis))

	for _, adi := range adiMap.Adis {
		if adi.Instance == 0 || adi.Instance == abcc.MapPadAdi {
			return fmt.Errorf("adi %q: invalid instance %v", adi.Name, adi.Instance)
		}
		if _, exists := adis[adi.Instance]; exists {
			return fmt.Errorf("adi %q: instance %v defined twice", adi.Name, adi.Instance)
		}
		if len(adi.Struct) == 0 {
			if _, ok := abcc.DataTypeFromName(adi.Type); !ok {
				return fmt.Errorf("adi %q: unknown type %q", adi.Name, adi.Type)
			}
			if adi.Elements == 0 {
				return fmt.Errorf("adi %q: no elements", adi.Name)
			}
		}
		for i, member := range adi.Struct {
			if _, ok := abcc.DataTypeFromName(member.Type); !ok {
				return fmt.Errorf("adi %q: member %v has unknown type %q", adi.Name, i, member.Type)
			}
		}
		adis[adi.Instance] = adi
	}

	for i, entry := range adiMap.Map {
		if entry.Direction != directionRead && entry.Direction != directionWrite {
			return fmt.Errorf("map entry %v: invalid direction %q", i, entry.Direction)
		}
		if entry.Pad != 0 {
			if entry.Instance != 0 {
				return fmt.Errorf("map entry %v: pad entry with instance %v", i, entry.Instance)
			}
			if entry.Pad > 16 {
				return fmt.Errorf("map entry %v: pad of %v bits", i, entry.Pad)
			}
			continue
		}
		adi, ok := adis[entry.Instance]
		if !ok {
			return fmt.Errorf("map entry %v: unknown instance %v", i, entry.Instance)
		}
		numElements := int(adi.Elements)
		if len(adi.Struct) > 0 {
			numElements = len(adi.Struct)
		}
		if entry.Elements != 0 && int(entry.Start)+int(entry.Elements) > numElements {
			return fmt.Errorf("map entry %v: elements %v-%v out of range for %q",
				i, entry.Start, int(entry.Start)+int(entry.Elements)-1, adi.Name)
		}
	}
	return nil
}

// Normalize sorts the ADIs by instance, as needed for lookups.
// It MUST be called only after Validate().
func Normalize(adiMap *AdiMap) {
	if adiMap == nil {
		return
	}
	sort.SliceStable(adiMap.Adis, func(i, j int) bool {
		return adiMap.Adis[i].Instance < adiMap.Adis[j].Instance
	})
}

// Entries converts a validated map into the driver representation. The
// default map is nil when the file has none.
func (adiMap *AdiMap) Entries() ([]abcc.AdiEntry, []abcc.MapEntry) {
	adis := make([]abcc.AdiEntry, 0, len(adiMap.Adis))
	for _, adi := range adiMap.Adis {
		dataType, _ := abcc.DataTypeFromName(adi.Type)
		entry := abcc.AdiEntry{
			Instance:    adi.Instance,
			Name:        adi.Name,
			DataType:    dataType,
			NumElements: adi.Elements,
			Access:      adi.Access,
		}
		for _, member := range adi.Struct {
			memberType, _ := abcc.DataTypeFromName(member.Type)
			entry.Struct = append(entry.Struct, abcc.StructElement{DataType: memberType, NumElements: member.Elements})
		}
		if len(entry.Struct) > 0 {
			entry.NumElements = uint8(len(entry.Struct))
		}
		adis = append(adis, entry)
	}
	abcc.SortAdiEntries(adis)

	if len(adiMap.Map) == 0 {
		return adis, nil
	}
	mapping := make([]abcc.MapEntry, 0, len(adiMap.Map))
	for _, entry := range adiMap.Map {
		direction := abcc.DirectionRead
		if entry.Direction == directionWrite {
			direction = abcc.DirectionWrite
		}
		if entry.Pad != 0 {
			mapping = append(mapping, abcc.MapEntry{Instance: abcc.MapPadAdi, Direction: direction, NumElements: entry.Pad})
			continue
		}
		numElements := entry.Elements
		if numElements == 0 {
			numElements = abcc.MapAllElements
		}
		mapping = append(mapping, abcc.MapEntry{
			Instance:     entry.Instance,
			Direction:    direction,
			NumElements:  numElements,
			ElementStart: entry.Start,
		})
	}
	return adis, mapping
}
