package sdo

import (
	"fmt"
	"time"

	"github.com/openfieldbus/gosdo/pkg/od"
)

// Abort is a CiA 301 SDO abort code, common to both SDO server and SDO client
type Abort uint32

// internalState of an active transfer, the hex values mirror the
// request / response numbering of CiA 301 §7.2.4
type internalState uint8

const (
	// COB-ID bases of the CiA predefined connection set
	ClientServiceId uint16 = 0x600
	ServerServiceId uint16 = 0x580

	// Default per transfer timeout
	DefaultClientTimeout = 30 * time.Millisecond
	DefaultServerTimeout = 1000 * time.Millisecond

	// Maximum payload of a single segment
	SegmentDataSize = 7
	// Maximum inline payload of an expedited transfer
	ExpeditedDataSize = 4
)

const (
	stateIdle                internalState = 0x00
	stateAbort               internalState = 0x01
	stateDownloadInitiateReq internalState = 0x11
	stateDownloadInitiateRsp internalState = 0x12
	stateDownloadSegmentReq  internalState = 0x13
	stateDownloadSegmentRsp  internalState = 0x14
	stateUploadInitiateReq   internalState = 0x21
	stateUploadInitiateRsp   internalState = 0x22
	stateUploadSegmentReq    internalState = 0x23
	stateUploadSegmentRsp    internalState = 0x24
)

const (
	AbortToggleBit         Abort = 0x05030000
	AbortTimeout           Abort = 0x05040000
	AbortCmd               Abort = 0x05040001
	AbortOutOfMem          Abort = 0x05040005
	AbortUnsupportedAccess Abort = 0x06010000
	AbortWriteOnly         Abort = 0x06010001
	AbortReadOnly          Abort = 0x06010002
	AbortNotExist          Abort = 0x06020000
	AbortTypeMismatch      Abort = 0x06070010
	AbortDataLong          Abort = 0x06070012
	AbortDataShort         Abort = 0x06070013
	AbortSubUnknown        Abort = 0x06090011
	AbortInvalidValue      Abort = 0x06090030
	AbortValueHigh         Abort = 0x06090031
	AbortValueLow          Abort = 0x06090032
	AbortMaxLessMin        Abort = 0x06090036
	AbortNoResource        Abort = 0x060A0023
	AbortGeneral           Abort = 0x08000000
	AbortDataTransfer      Abort = 0x08000020
	AbortDataLocalControl  Abort = 0x08000021
	AbortDataDeviceState   Abort = 0x08000022
	AbortDataOD            Abort = 0x08000023
	AbortNoData            Abort = 0x08000024
)

var abortDescriptionMap = map[Abort]string{
	AbortToggleBit:         "Toggle bit not altered",
	AbortTimeout:           "SDO protocol timed out",
	AbortCmd:               "Command specifier not valid or unknown",
	AbortOutOfMem:          "Out of memory",
	AbortUnsupportedAccess: "Unsupported access to an object",
	AbortWriteOnly:         "Attempt to read a write only object",
	AbortReadOnly:          "Attempt to write a read only object",
	AbortNotExist:          "Object does not exist in the object dictionary",
	AbortTypeMismatch:      "Data type does not match, length does not match",
	AbortDataLong:          "Data type does not match, length too high",
	AbortDataShort:         "Data type does not match, length too short",
	AbortSubUnknown:        "Sub index does not exist",
	AbortInvalidValue:      "Invalid value for parameter (download only)",
	AbortValueHigh:         "Value range of parameter written too high",
	AbortValueLow:          "Value range of parameter written too low",
	AbortMaxLessMin:        "Maximum value is less than minimum value",
	AbortNoResource:        "Resource not available: SDO connection",
	AbortGeneral:           "General error",
	AbortDataTransfer:      "Data cannot be transferred or stored to application",
	AbortDataLocalControl:  "Data cannot be transferred because of local control",
	AbortDataDeviceState:   "Data cannot be transferred because of present device state",
	AbortDataOD:            "Object dictionary not present or dynamic generation fails",
	AbortNoData:            "No data available",
}

var odToAbortMap = map[od.ODR]Abort{
	od.ErrOutOfMem:     AbortOutOfMem,
	od.ErrUnsuppAccess: AbortUnsupportedAccess,
	od.ErrWriteOnly:    AbortWriteOnly,
	od.ErrReadonly:     AbortReadOnly,
	od.ErrIdxNotExist:  AbortNotExist,
	od.ErrTypeMismatch: AbortTypeMismatch,
	od.ErrDataLong:     AbortDataLong,
	od.ErrDataShort:    AbortDataShort,
	od.ErrSubNotExist:  AbortSubUnknown,
	od.ErrInvalidValue: AbortInvalidValue,
	od.ErrValueHigh:    AbortValueHigh,
	od.ErrValueLow:     AbortValueLow,
	od.ErrMaxLessMin:   AbortMaxLessMin,
	od.ErrNoResource:   AbortNoResource,
	od.ErrGeneral:      AbortGeneral,
	od.ErrDataTransf:   AbortDataTransfer,
	od.ErrDataLocCtrl:  AbortDataLocalControl,
	od.ErrDataDevState: AbortDataDeviceState,
	od.ErrOdMissing:    AbortDataOD,
	od.ErrNoData:       AbortNoData,
}

// ConvertOdToSdoAbort returns the abort code matching an OD access result,
// AbortGeneral when no specific mapping exists
func ConvertOdToSdoAbort(oderr od.ODR) Abort {
	abortCode, ok := odToAbortMap[oderr]
	if ok {
		return abortCode
	}
	return AbortGeneral
}

func (abort Abort) Error() string {
	return fmt.Sprintf("x%x : %s", uint32(abort), abort.Description())
}

// Description returns the human readable message for the abort code.
// Unknown codes render as "Unknown error", the numeric value is preserved
// inside the Abort itself.
func (abort Abort) Description() string {
	description, ok := abortDescriptionMap[abort]
	if ok {
		return description
	}
	return "Unknown error"
}

// Error is the structured failure carrier of a transfer.
// Code keeps inbound abort codes as-is, including unknown ones.
type Error struct {
	Code     Abort
	Index    uint16
	SubIndex uint8
}

func (e *Error) Error() string {
	return fmt.Sprintf("sdo abort x%x on x%x:x%x : %s", uint32(e.Code), e.Index, e.SubIndex, e.Code.Description())
}

// Abort errors of the same code compare equal for errors.Is
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if ok {
		return other.Code == e.Code
	}
	abort, ok := target.(Abort)
	return ok && abort == e.Code
}
