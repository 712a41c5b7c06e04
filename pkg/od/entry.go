package od

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"
)

// An Entry object is the main building block of an [ObjectDictionary].
// It holds an OD object at a specific index and can be one of the
// following object types, defined by CiA 301
//   - VAR / DOMAIN [Variable]
//   - ARRAY / RECORD [VariableList]
//
// If the object is an ARRAY or a RECORD it holds multiple sub entries.
// Sub entries are always of type VAR, for simplicity.
type Entry struct {
	// The OD index e.g. x1280
	Index uint16
	// The OD name inside of EDS
	Name string
	// The OD object type, as cited above
	ObjectType uint8
	// Either a [Variable] or a [VariableList] object
	object            any
	subEntriesNameMap map[string]uint8
}

// SubIndex returns the [Variable] at a given subindex.
// subindex can be a string, int, or uint8.
// When using a string it will try to find the subindex according to
// the OD naming.
func (entry *Entry) SubIndex(subindex any) (*Variable, error) {
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	switch object := entry.object.(type) {
	case *Variable:
		switch sub := subindex.(type) {
		case string:
			if sub != "" {
				return nil, ErrSubNotExist
			}
		case int:
			if sub != 0 {
				return nil, ErrSubNotExist
			}
		case uint8:
			if sub != 0 {
				return nil, ErrSubNotExist
			}
		default:
			return nil, ErrDevIncompat
		}
		return object, nil
	case *VariableList:
		var convertedSubIndex uint8
		switch sub := subindex.(type) {
		case string:
			converted, ok := entry.subEntriesNameMap[sub]
			if !ok {
				return nil, ErrSubNotExist
			}
			convertedSubIndex = converted
		case int:
			if sub >= 256 {
				return nil, ErrDevIncompat
			}
			convertedSubIndex = uint8(sub)
		case uint8:
			convertedSubIndex = sub
		default:
			return nil, ErrDevIncompat
		}
		return object.GetSubObject(convertedSubIndex)
	default:
		// This is not normal
		return nil, ErrDevIncompat
	}
}

// SubCount returns the number of sub entries inside entry.
// If entry is of VAR type it will return 1.
func (entry *Entry) SubCount() int {
	switch object := entry.object.(type) {
	case *Variable:
		return 1
	case *VariableList:
		return len(object.Variables)
	default:
		log.Errorf("[OD] the entry x%x has an invalid type %T", entry.Index, entry.object)
		return 1
	}
}

// IsComposite returns true when the entry holds sub entries (ARRAY or RECORD)
func (entry *Entry) IsComposite() bool {
	_, ok := entry.object.(*VariableList)
	return ok
}

// AddNamedSubObject adds a sub object to a composite entry and registers
// its name for string lookups
func (entry *Entry) AddNamedSubObject(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	list, ok := entry.object.(*VariableList)
	if !ok {
		return nil, ErrDevIncompat
	}
	variable, err := list.AddSubObject(subindex, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	entry.subEntriesNameMap[name] = subindex
	return variable, nil
}

// Uint8 reads the raw value at the given subindex, expecting exactly one byte
func (entry *Entry) Uint8(subindex uint8) (uint8, error) {
	variable, err := entry.SubIndex(subindex)
	if err != nil {
		return 0, err
	}
	data := variable.Bytes()
	if len(data) != 1 {
		return 0, ErrTypeMismatch
	}
	return data[0], nil
}

// Uint16 reads the raw value at the given subindex, expecting exactly two bytes
func (entry *Entry) Uint16(subindex uint8) (uint16, error) {
	variable, err := entry.SubIndex(subindex)
	if err != nil {
		return 0, err
	}
	data := variable.Bytes()
	if len(data) != 2 {
		return 0, ErrTypeMismatch
	}
	return binary.LittleEndian.Uint16(data), nil
}

// Uint32 reads the raw value at the given subindex, expecting exactly four bytes
func (entry *Entry) Uint32(subindex uint8) (uint32, error) {
	variable, err := entry.SubIndex(subindex)
	if err != nil {
		return 0, err
	}
	data := variable.Bytes()
	if len(data) != 4 {
		return 0, ErrTypeMismatch
	}
	return binary.LittleEndian.Uint32(data), nil
}

// PutUint8 writes a raw value at the given subindex
func (entry *Entry) PutUint8(subindex uint8, value uint8) error {
	variable, err := entry.SubIndex(subindex)
	if err != nil {
		return err
	}
	return variable.SetBytes([]byte{value})
}

// PutUint32 writes a raw value at the given subindex
func (entry *Entry) PutUint32(subindex uint8, value uint32) error {
	variable, err := entry.SubIndex(subindex)
	if err != nil {
		return err
	}
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, value)
	return variable.SetBytes(data)
}
