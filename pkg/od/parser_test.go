package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEds = []byte(`
[2000]
ParameterName=UNSIGNED8 value
ObjectType=0x7
DataType=0x0005
AccessType=rw
DefaultValue=0x42

[2001]
ParameterName=limited value
ObjectType=0x7
DataType=0x0006
AccessType=rw
DefaultValue=0x50
LowLimit=0x10
HighLimit=0x100

[2002]
ParameterName=constant value
ObjectType=0x7
DataType=0x0005
AccessType=const
DefaultValue=0x11

[1280]
ParameterName=SDO client parameter
ObjectType=0x9
SubNumber=4

[1280sub0]
ParameterName=Highest sub-index supported
DataType=0x0005
AccessType=ro
DefaultValue=0x3

[1280sub1]
ParameterName=COB-ID client to server
DataType=0x0007
AccessType=rw
DefaultValue=$NODEID+0x600

[1280sub2]
ParameterName=COB-ID server to client
DataType=0x0007
AccessType=rw
DefaultValue=$NODEID+0x580

[1280sub3]
ParameterName=Node ID of the SDO server
DataType=0x0005
AccessType=rw
DefaultValue=0
`)

func TestParse(t *testing.T) {
	odict, err := Parse(testEds, 0x0B)
	require.Nil(t, err)

	value, err := odict.Index(0x2000).Uint8(0)
	require.Nil(t, err)
	assert.EqualValues(t, 0x42, value)

	// Access type encoding
	variable, err := odict.Index(0x2002).SubIndex(0)
	require.Nil(t, err)
	assert.True(t, variable.HasAttribute(AttributeSdoR))
	assert.False(t, variable.HasAttribute(AttributeSdoW))

	// Limits are parsed
	variable, err = odict.Index(0x2001).SubIndex(0)
	require.Nil(t, err)
	raw, _ := Encode(uint16(0x200), UNSIGNED16)
	assert.Equal(t, ErrValueHigh, variable.CheckLimits(raw))
}

func TestParseSDOParameterRecord(t *testing.T) {
	odict, err := Parse(testEds, 0x0B)
	require.Nil(t, err)

	entry := odict.Index(0x1280)
	require.NotNil(t, entry)
	assert.Equal(t, 4, entry.SubCount())

	// $NODEID is substituted
	cobTx, err := entry.Uint32(1)
	require.Nil(t, err)
	assert.EqualValues(t, 0x60B, cobTx)
	cobRx, err := entry.Uint32(2)
	require.Nil(t, err)
	assert.EqualValues(t, 0x58B, cobRx)

	// Lookup by sub entry name
	variable, err := entry.SubIndex("COB-ID client to server")
	require.Nil(t, err)
	assert.EqualValues(t, 1, variable.SubIndex)
}

func TestParseUnknownFile(t *testing.T) {
	_, err := Parse("does-not-exist.eds", 0)
	assert.NotNil(t, err)
}
