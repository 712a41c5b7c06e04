package od

import (
	"fmt"
	"strconv"
)

// ODR is the internal result code of an object dictionary access.
// Each value maps to a CiA 301 SDO abort code.
type ODR int8

const (
	ErrPartial      ODR = -1
	ErrNo           ODR = 0
	ErrOutOfMem     ODR = 1
	ErrUnsuppAccess ODR = 2
	ErrWriteOnly    ODR = 3
	ErrReadonly     ODR = 4
	ErrIdxNotExist  ODR = 5
	ErrTypeMismatch ODR = 6
	ErrDataLong     ODR = 7
	ErrDataShort    ODR = 8
	ErrSubNotExist  ODR = 9
	ErrInvalidValue ODR = 10
	ErrValueHigh    ODR = 11
	ErrValueLow     ODR = 12
	ErrMaxLessMin   ODR = 13
	ErrNoResource   ODR = 14
	ErrGeneral      ODR = 15
	ErrDataTransf   ODR = 16
	ErrDataLocCtrl  ODR = 17
	ErrDataDevState ODR = 18
	ErrOdMissing    ODR = 19
	ErrNoData       ODR = 20
	ErrDevIncompat  ODR = 21
)

func (odr ODR) Error() string {
	return fmt.Sprintf("OD error %v", strconv.Itoa(int(odr)))
}

// CiA 301 object types
const (
	ObjectTypeDOMAIN uint8 = 2
	ObjectTypeVAR    uint8 = 7
	ObjectTypeARRAY  uint8 = 8
	ObjectTypeRECORD uint8 = 9
)

// CiA 301 data types
const (
	BOOLEAN        uint8 = 0x01
	INTEGER8       uint8 = 0x02
	INTEGER16      uint8 = 0x03
	INTEGER32      uint8 = 0x04
	UNSIGNED8      uint8 = 0x05
	UNSIGNED16     uint8 = 0x06
	UNSIGNED32     uint8 = 0x07
	REAL32         uint8 = 0x08
	VISIBLE_STRING uint8 = 0x09
	OCTET_STRING   uint8 = 0x0A
	UNICODE_STRING uint8 = 0x0B
	DOMAIN         uint8 = 0x0F
	REAL64         uint8 = 0x11
	INTEGER64      uint8 = 0x15
	UNSIGNED64     uint8 = 0x1B
)

// Object dictionary entry attributes.
// The access type is encoded with the SdoR / SdoW bits :
// READ_WRITE has both, READ_ONLY and CONSTANT only SdoR, WRITE_ONLY only SdoW.
const (
	AttributeSdoR  uint8 = 0x01 // SDO server may read from the variable
	AttributeSdoW  uint8 = 0x02 // SDO server may write to the variable
	AttributeSdoRw uint8 = 0x03 // SDO server may read from or write to the variable
	// Shorter value, than specified variable size, may be
	// written to the variable. Used for VISIBLE_STRING and UNICODE_STRING.
	AttributeStr uint8 = 0x80
)

// SDO communication parameter ranges inside the object dictionary
const (
	EntrySDOServerParamBase uint16 = 0x1200
	EntrySDOClientParamBase uint16 = 0x1280
	SDOParamRangeCount      uint16 = 0x80
	CobIdFlagInvalid        uint32 = 0x80000000
	CobIdFlagDynamic        uint32 = 0x40000000
	CobIdFlagExtendedFrame  uint32 = 0x20000000
	CobIdMask11Bits         uint32 = 0x000007FF
)
