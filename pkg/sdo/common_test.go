package sdo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbortCodeValues(t *testing.T) {
	// Values are fixed by CiA 301
	assert.EqualValues(t, 0x05030000, AbortToggleBit)
	assert.EqualValues(t, 0x05040000, AbortTimeout)
	assert.EqualValues(t, 0x05040001, AbortCmd)
	assert.EqualValues(t, 0x05040005, AbortOutOfMem)
	assert.EqualValues(t, 0x06010000, AbortUnsupportedAccess)
	assert.EqualValues(t, 0x06010001, AbortWriteOnly)
	assert.EqualValues(t, 0x06010002, AbortReadOnly)
	assert.EqualValues(t, 0x06020000, AbortNotExist)
	assert.EqualValues(t, 0x06070010, AbortTypeMismatch)
	assert.EqualValues(t, 0x06070012, AbortDataLong)
	assert.EqualValues(t, 0x06070013, AbortDataShort)
	assert.EqualValues(t, 0x06090011, AbortSubUnknown)
	assert.EqualValues(t, 0x06090030, AbortInvalidValue)
	assert.EqualValues(t, 0x06090031, AbortValueHigh)
	assert.EqualValues(t, 0x06090032, AbortValueLow)
	assert.EqualValues(t, 0x06090036, AbortMaxLessMin)
	assert.EqualValues(t, 0x060A0023, AbortNoResource)
	assert.EqualValues(t, 0x08000000, AbortGeneral)
	assert.EqualValues(t, 0x08000020, AbortDataTransfer)
	assert.EqualValues(t, 0x08000021, AbortDataLocalControl)
	assert.EqualValues(t, 0x08000022, AbortDataDeviceState)
	assert.EqualValues(t, 0x08000023, AbortDataOD)
	assert.EqualValues(t, 0x08000024, AbortNoData)
}

func TestAbortDescription(t *testing.T) {
	assert.Equal(t, "Toggle bit not altered", AbortToggleBit.Description())
	assert.Equal(t, "Attempt to write a read only object", AbortReadOnly.Description())
	// Unknown inbound codes are preserved as-is and render generically
	unknown := Abort(0x12345678)
	assert.Equal(t, "Unknown error", unknown.Description())
	assert.Contains(t, unknown.Error(), "x12345678")
}

func TestSdoError(t *testing.T) {
	err := &Error{Code: AbortTimeout, Index: 0x2000, SubIndex: 1}
	assert.Contains(t, err.Error(), "SDO protocol timed out")
	assert.Contains(t, err.Error(), "x5040000")
	assert.ErrorIs(t, err, AbortTimeout)
}

func TestConvertOdToSdoAbort(t *testing.T) {
	// Unmapped od errors fall back to the general abort
	assert.Equal(t, AbortGeneral, ConvertOdToSdoAbort(99))
}
