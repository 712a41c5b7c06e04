package od

import (
	"encoding/binary"
	"math"
)

// Variable is the main data representation for a value stored inside the OD.
// It is used to store a "VAR" or "DOMAIN" object type as well as
// any sub entry of a "RECORD" or "ARRAY" object type.
type Variable struct {
	value        []byte
	valueDefault []byte
	// Name of this variable
	Name string
	// The CiA 301 data type of this variable
	DataType uint8
	// Attribute contains the access type e.g. AttributeSdoRw
	Attribute uint8
	// The minimum value for this variable, raw encoded, nil when absent
	lowLimit []byte
	// The maximum value for this variable, raw encoded, nil when absent
	highLimit []byte
	// The subindex for this variable if part of an ARRAY or RECORD
	SubIndex uint8
}

// Create a variable with a default value given as an EDS style string
func NewVariable(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	return NewVariableWithNodeId(subindex, name, datatype, attribute, value, 0)
}

// Same as [NewVariable] but nodeId is added to the encoded default value,
// used for $NODEID defaults of the communication parameter records
func NewVariableWithNodeId(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
	nodeId uint8,
) (*Variable, error) {
	encoded, err := EncodeFromString(value, datatype, nodeId)
	if err != nil {
		return nil, err
	}
	variable := &Variable{
		Name:         name,
		DataType:     datatype,
		Attribute:    attribute,
		SubIndex:     subindex,
		valueDefault: encoded,
		value:        make([]byte, len(encoded)),
	}
	copy(variable.value, encoded)
	return variable, nil
}

// Return number of bytes currently stored
func (variable *Variable) DataLength() uint32 {
	return uint32(len(variable.value))
}

// Return default value as byte slice
func (variable *Variable) DefaultValue() []byte {
	return variable.valueDefault
}

// Bytes returns a copy of the raw value stored inside the OD
func (variable *Variable) Bytes() []byte {
	data := make([]byte, len(variable.value))
	copy(data, variable.value)
	return data
}

// Returns true if variable has the specific attribute
func (variable *Variable) HasAttribute(attribute uint8) bool {
	return (variable.Attribute & attribute) != 0
}

// SetLimits stores the low & high limits given as EDS style strings.
// Empty strings clear the corresponding limit.
func (variable *Variable) SetLimits(lowLimit string, highLimit string) error {
	variable.lowLimit = nil
	variable.highLimit = nil
	if lowLimit != "" {
		encoded, err := EncodeFromString(lowLimit, variable.DataType, 0)
		if err != nil {
			return err
		}
		variable.lowLimit = encoded
	}
	if highLimit != "" {
		encoded, err := EncodeFromString(highLimit, variable.DataType, 0)
		if err != nil {
			return err
		}
		variable.highLimit = encoded
	}
	return nil
}

// SetBytes commits a raw value to the OD.
// Fixed size data types must be written with their exact size, variable
// sized types (strings, domain) replace the stored value.
func (variable *Variable) SetBytes(data []byte) error {
	size := SizeOfDataType(variable.DataType)
	if size > 0 {
		if len(data) > size {
			return ErrDataLong
		} else if len(data) < size {
			return ErrDataShort
		}
		copy(variable.value, data)
		return nil
	}
	variable.value = make([]byte, len(data))
	copy(variable.value, data)
	return nil
}

// CheckLimits verifies a raw candidate value against the low & high limits.
// Only integer data types carry limits, other types always pass.
func (variable *Variable) CheckLimits(data []byte) error {
	if variable.lowLimit == nil && variable.highLimit == nil {
		return nil
	}
	candidate, err := decodeAsInteger(data, variable.DataType)
	if err != nil {
		return nil
	}
	if variable.highLimit != nil {
		limit, err := decodeAsInteger(variable.highLimit, variable.DataType)
		if err == nil && candidate > limit {
			return ErrValueHigh
		}
	}
	if variable.lowLimit != nil {
		limit, err := decodeAsInteger(variable.lowLimit, variable.DataType)
		if err == nil && candidate < limit {
			return ErrValueLow
		}
	}
	return nil
}

// Decode an integer data type into a comparable signed value
func decodeAsInteger(data []byte, datatype uint8) (int64, error) {
	size := SizeOfDataType(datatype)
	if size == 0 || len(data) != size {
		return 0, ErrTypeMismatch
	}
	switch datatype {
	case BOOLEAN, UNSIGNED8:
		return int64(data[0]), nil
	case INTEGER8:
		return int64(int8(data[0])), nil
	case UNSIGNED16:
		return int64(binary.LittleEndian.Uint16(data)), nil
	case INTEGER16:
		return int64(int16(binary.LittleEndian.Uint16(data))), nil
	case UNSIGNED32:
		return int64(binary.LittleEndian.Uint32(data)), nil
	case INTEGER32:
		return int64(int32(binary.LittleEndian.Uint32(data))), nil
	case UNSIGNED64:
		value := binary.LittleEndian.Uint64(data)
		if value > math.MaxInt64 {
			return math.MaxInt64, nil
		}
		return int64(value), nil
	case INTEGER64:
		return int64(binary.LittleEndian.Uint64(data)), nil
	default:
		return 0, ErrTypeMismatch
	}
}
