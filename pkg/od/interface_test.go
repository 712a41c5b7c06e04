package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createOD() *ObjectDictionary {
	odict := NewOD()
	odict.AddVariableType(0x3016, "entry3016", UNSIGNED8, AttributeSdoRw, "0x10")
	odict.AddVariableType(0x3017, "entry3017", UNSIGNED16, AttributeSdoRw, "0x20")
	odict.AddVariableType(0x3018, "entry3018", UNSIGNED32, AttributeSdoRw, "0x30")
	record := NewRecord()
	record.AddSubObject(0, "sub0", UNSIGNED8, AttributeSdoRw, "0x11")
	record.AddSubObject(1, "sub1", UNSIGNED16, AttributeSdoRw, "0x22")
	odict.AddVariableList(0x3030, "entry3030", record)
	return odict
}

func TestFind(t *testing.T) {
	odict := createOD()
	entry := odict.Index(0x1118)
	assert.Nil(t, entry)
	entry = odict.Index(0x3016)
	assert.NotNil(t, entry)
	entry = odict.Index("entry3016")
	assert.NotNil(t, entry)
	variable, err := odict.Index(0x3016).SubIndex(0)
	assert.Nil(t, err)
	assert.NotNil(t, variable)
}

func TestEntryGetters(t *testing.T) {
	odict := createOD()
	value8, err := odict.Index(0x3016).Uint8(0)
	require.Nil(t, err)
	assert.EqualValues(t, 0x10, value8)
	value16, err := odict.Index(0x3017).Uint16(0)
	require.Nil(t, err)
	assert.EqualValues(t, 0x20, value16)
	value32, err := odict.Index(0x3018).Uint32(0)
	require.Nil(t, err)
	assert.EqualValues(t, 0x30, value32)

	_, err = odict.Index(0x3016).Uint16(0)
	assert.Equal(t, ErrTypeMismatch, err)
	_, err = odict.Index(0x3016).Uint8(1)
	assert.Equal(t, ErrSubNotExist, err)
}

func TestRecordAccess(t *testing.T) {
	odict := createOD()
	entry := odict.Index(0x3030)
	require.NotNil(t, entry)
	assert.True(t, entry.IsComposite())
	assert.Equal(t, 2, entry.SubCount())
	variable, err := entry.SubIndex(uint8(1))
	require.Nil(t, err)
	assert.EqualValues(t, 0x22, uint16(variable.Bytes()[0])|uint16(variable.Bytes()[1])<<8)
	_, err = entry.SubIndex(uint8(9))
	assert.Equal(t, ErrSubNotExist, err)
}

func TestDelete(t *testing.T) {
	odict := createOD()
	odict.Delete(0x3016)
	assert.Nil(t, odict.Index(0x3016))
	assert.Nil(t, odict.Index("entry3016"))
	// Deleting twice is a no-op
	odict.Delete(0x3016)
}

func TestPutters(t *testing.T) {
	odict := createOD()
	entry := odict.Index(0x3018)
	require.Nil(t, entry.PutUint32(0, 0x12345678))
	value, err := entry.Uint32(0)
	require.Nil(t, err)
	assert.EqualValues(t, 0x12345678, value)
}
