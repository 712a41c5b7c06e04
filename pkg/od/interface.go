package od

import (
	log "github.com/sirupsen/logrus"
)

// ObjectDictionary is used for storing all entries of a CANopen node
// according to CiA 301. This is the internal representation of an EDS file.
type ObjectDictionary struct {
	entriesByIndexValue map[uint16]*Entry
	entriesByIndexName  map[string]*Entry
}

func NewOD() *ObjectDictionary {
	return &ObjectDictionary{
		entriesByIndexValue: make(map[uint16]*Entry),
		entriesByIndexName:  make(map[string]*Entry),
	}
}

// Add an entry to OD, any existing entry will be replaced
func (odict *ObjectDictionary) addEntry(entry *Entry) {
	_, entryIndexValueExists := odict.entriesByIndexValue[entry.Index]
	if entryIndexValueExists {
		log.Warnf("[OD] overwritting entry index x%x", entry.Index)
	}
	odict.entriesByIndexValue[entry.Index] = entry
	odict.entriesByIndexName[entry.Name] = entry
}

// AddVariableType adds an entry of type VAR to OD.
// The value should be given as a string with hex representation
// e.g. 0x22 or 0x55555
func (odict *ObjectDictionary) AddVariableType(
	index uint16,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Entry, error) {
	variable, err := NewVariable(0, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		Index:             index,
		Name:              name,
		ObjectType:        ObjectTypeVAR,
		object:            variable,
		subEntriesNameMap: map[string]uint8{},
	}
	odict.addEntry(entry)
	return entry, nil
}

// AddVariableList adds an entry of type ARRAY or RECORD depending on [VariableList]
func (odict *ObjectDictionary) AddVariableList(index uint16, name string, varList *VariableList) *Entry {
	entry := &Entry{
		Index:             index,
		Name:              name,
		ObjectType:        varList.objectType,
		object:            varList,
		subEntriesNameMap: map[string]uint8{},
	}
	odict.addEntry(entry)
	return entry
}

// Index returns an OD entry at the specified index.
// index can either be a string, int or uint16.
// This method does not return an error but instead returns
// nil if no corresponding [Entry] is found.
func (odict *ObjectDictionary) Index(index any) *Entry {
	switch ind := index.(type) {
	case string:
		return odict.entriesByIndexName[ind]
	case int:
		return odict.entriesByIndexValue[uint16(ind)]
	case uint:
		return odict.entriesByIndexValue[uint16(ind)]
	case uint16:
		return odict.entriesByIndexValue[ind]
	default:
		return nil
	}
}

// Delete removes an entry from the OD, no-op if the index does not exist
func (odict *ObjectDictionary) Delete(index uint16) {
	entry, ok := odict.entriesByIndexValue[index]
	if !ok {
		return
	}
	delete(odict.entriesByIndexValue, index)
	delete(odict.entriesByIndexName, entry.Name)
}

// Entries returns the map of indexes and entries
func (odict *ObjectDictionary) Entries() map[uint16]*Entry {
	return odict.entriesByIndexValue
}

// VariableList is the data representation for
// storing a "RECORD" or "ARRAY" object type
type VariableList struct {
	objectType uint8 // either "RECORD" or "ARRAY"
	Variables  []*Variable
}

// GetSubObject returns the [Variable] corresponding to
// a given subindex, if not found it errors with ErrSubNotExist
func (rec *VariableList) GetSubObject(subindex uint8) (*Variable, error) {
	if rec.objectType == ObjectTypeARRAY {
		subEntriesCount := len(rec.Variables)
		if subindex >= uint8(subEntriesCount) {
			return nil, ErrSubNotExist
		}
		return rec.Variables[subindex], nil
	}
	for i, variable := range rec.Variables {
		if variable.SubIndex == subindex {
			return rec.Variables[i], nil
		}
	}
	return nil, ErrSubNotExist
}

// AddSubObject adds a [Variable] to the VariableList.
// If the VariableList is an ARRAY then the subindex should be
// identical to the actual placement inside of the array.
// Otherwise it can be any valid subindex value, and the VariableList
// will grow accordingly.
func (rec *VariableList) AddSubObject(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	variable, err := NewVariable(subindex, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	if rec.objectType == ObjectTypeARRAY {
		if int(subindex) >= len(rec.Variables) {
			log.Errorf("[OD] trying to add sub-object x%x to array but out of bounds", subindex)
			return nil, ErrSubNotExist
		}
		rec.Variables[subindex] = variable
		return rec.Variables[subindex], nil
	}
	rec.Variables = append(rec.Variables, variable)
	return rec.Variables[len(rec.Variables)-1], nil
}

func NewRecord() *VariableList {
	return &VariableList{objectType: ObjectTypeRECORD, Variables: make([]*Variable, 0)}
}

func NewArray(length uint8) *VariableList {
	return &VariableList{objectType: ObjectTypeARRAY, Variables: make([]*Variable, length)}
}
