package od

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// Return the fixed byte size of a CiA data type, 0 for variable sized types
func SizeOfDataType(datatype uint8) int {
	switch datatype {
	case BOOLEAN, UNSIGNED8, INTEGER8:
		return 1
	case UNSIGNED16, INTEGER16:
		return 2
	case UNSIGNED32, INTEGER32, REAL32:
		return 4
	case UNSIGNED64, INTEGER64, REAL64:
		return 8
	default:
		return 0
	}
}

// EncodeFromString encodes a value from an EDS style string into bytes
// respecting the canopen datatype e.g. "0x20" as UNSIGNED16 -> [0x20, 0x00]
func EncodeFromString(value string, datatype uint8, offset uint8) ([]byte, error) {

	var data []byte
	var err error
	var parsedInt int64
	var parsedUint uint64

	if value == "" {
		// Treat empty string as a 0 value
		value = "0"
	}

	switch datatype {
	case BOOLEAN, UNSIGNED8:
		parsedUint, err = strconv.ParseUint(value, 0, 8)
		data = []byte{byte(uint8(parsedUint + uint64(offset)))}

	case INTEGER8:
		parsedInt, err = strconv.ParseInt(value, 0, 8)
		data = []byte{byte(parsedInt + int64(offset))}

	case UNSIGNED16:
		parsedUint, err = strconv.ParseUint(value, 0, 16)
		data = make([]byte, 2)
		binary.LittleEndian.PutUint16(data, uint16(parsedUint+uint64(offset)))

	case INTEGER16:
		parsedInt, err = strconv.ParseInt(value, 0, 16)
		data = make([]byte, 2)
		binary.LittleEndian.PutUint16(data, uint16(parsedInt+int64(offset)))

	case UNSIGNED32:
		parsedUint, err = strconv.ParseUint(value, 0, 32)
		data = make([]byte, 4)
		binary.LittleEndian.PutUint32(data, uint32(parsedUint+uint64(offset)))

	case INTEGER32:
		parsedInt, err = strconv.ParseInt(value, 0, 32)
		data = make([]byte, 4)
		binary.LittleEndian.PutUint32(data, uint32(parsedInt+int64(offset)))

	case REAL32:
		var parsedFloat float64
		parsedFloat, err = strconv.ParseFloat(value, 32)
		data = make([]byte, 4)
		binary.LittleEndian.PutUint32(data, math.Float32bits(float32(parsedFloat)))

	case UNSIGNED64:
		parsedUint, err = strconv.ParseUint(value, 0, 64)
		data = make([]byte, 8)
		binary.LittleEndian.PutUint64(data, parsedUint+uint64(offset))

	case INTEGER64:
		parsedInt, err = strconv.ParseInt(value, 0, 64)
		data = make([]byte, 8)
		binary.LittleEndian.PutUint64(data, uint64(parsedInt+int64(offset)))

	case REAL64:
		var parsedFloat float64
		parsedFloat, err = strconv.ParseFloat(value, 64)
		data = make([]byte, 8)
		binary.LittleEndian.PutUint64(data, math.Float64bits(parsedFloat))

	case VISIBLE_STRING, OCTET_STRING, UNICODE_STRING:
		return []byte(value), nil

	case DOMAIN:
		return []byte{}, nil

	default:
		return nil, ErrTypeMismatch
	}
	if err != nil {
		return nil, ErrInvalidValue
	}
	return data, nil
}

// Encode is the type_to_raw conversion : encode a generic go value into the
// little endian representation of the given canopen datatype.
// []byte values pass through unchanged, a zero datatype only accepts raw bytes
// and strings.
func Encode(value any, datatype uint8) ([]byte, error) {
	if datatype == 0 {
		switch value.(type) {
		case []byte, string:
		default:
			return nil, ErrTypeMismatch
		}
	}
	switch val := value.(type) {
	case []byte:
		return val, nil
	case bool:
		if val {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case uint8:
		return []byte{val}, nil
	case int8:
		return []byte{byte(val)}, nil
	case uint16:
		data := make([]byte, 2)
		binary.LittleEndian.PutUint16(data, val)
		return data, nil
	case int16:
		data := make([]byte, 2)
		binary.LittleEndian.PutUint16(data, uint16(val))
		return data, nil
	case uint32:
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, val)
		return data, nil
	case int32:
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, uint32(val))
		return data, nil
	case uint64:
		data := make([]byte, 8)
		binary.LittleEndian.PutUint64(data, val)
		return data, nil
	case int64:
		data := make([]byte, 8)
		binary.LittleEndian.PutUint64(data, uint64(val))
		return data, nil
	case float32:
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, math.Float32bits(val))
		return data, nil
	case float64:
		data := make([]byte, 8)
		binary.LittleEndian.PutUint64(data, math.Float64bits(val))
		return data, nil
	case string:
		return []byte(val), nil
	default:
		return nil, ErrTypeMismatch
	}
}

// Decode is the raw_to_type conversion : decode raw little endian bytes into
// a go value of the given canopen datatype. A zero datatype returns the raw
// bytes unchanged.
func Decode(data []byte, datatype uint8) (any, error) {
	if datatype == 0 {
		return data, nil
	}
	size := SizeOfDataType(datatype)
	if size > 0 && len(data) != size {
		return nil, ErrTypeMismatch
	}
	switch datatype {
	case BOOLEAN:
		return data[0] != 0, nil
	case UNSIGNED8:
		return data[0], nil
	case INTEGER8:
		return int8(data[0]), nil
	case UNSIGNED16:
		return binary.LittleEndian.Uint16(data), nil
	case INTEGER16:
		return int16(binary.LittleEndian.Uint16(data)), nil
	case UNSIGNED32:
		return binary.LittleEndian.Uint32(data), nil
	case INTEGER32:
		return int32(binary.LittleEndian.Uint32(data)), nil
	case REAL32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case UNSIGNED64:
		return binary.LittleEndian.Uint64(data), nil
	case INTEGER64:
		return int64(binary.LittleEndian.Uint64(data)), nil
	case REAL64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case VISIBLE_STRING, UNICODE_STRING:
		return string(data), nil
	case OCTET_STRING, DOMAIN:
		return data, nil
	default:
		return nil, ErrTypeMismatch
	}
}

// EncodeAttribute returns the entry attribute for a given EDS access type
// string : rw, ro, wo, rww, rwr, const
func EncodeAttribute(accessType string, datatype uint8) uint8 {
	var attribute uint8
	switch strings.ToLower(accessType) {
	case "rw", "rww", "rwr":
		attribute = AttributeSdoRw
	case "ro", "const":
		attribute = AttributeSdoR
	case "wo":
		attribute = AttributeSdoW
	default:
		attribute = AttributeSdoRw
	}
	if datatype == VISIBLE_STRING || datatype == UNICODE_STRING {
		attribute |= AttributeStr
	}
	return attribute
}
