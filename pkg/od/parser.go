package od

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Index & subindex section matching e.g. [1280] & [1280sub1]
var matchIdxRegExp = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
var matchSubidxRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})[Ss]ub([0-9A-Fa-f]+)$`)
var matchNodeIdRegExp = regexp.MustCompile(`\+?\$NODEID\+?`)

// Parse an EDS style ini file into an [ObjectDictionary].
// file can either be a path or a []byte.
// $NODEID inside a DefaultValue is substituted with the given node id.
func Parse(file any, nodeId uint8) (*ObjectDictionary, error) {
	iniFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	odict := NewOD()

	// First pass : entries
	for _, section := range iniFile.Sections() {
		sectionName := section.Name()
		if !matchIdxRegExp.MatchString(sectionName) {
			continue
		}
		idx, err := strconv.ParseUint(sectionName, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("failed to parse index %v : %v", sectionName, err)
		}
		index := uint16(idx)
		name := section.Key("ParameterName").String()
		objType := parseHexOrDefault(section.Key("ObjectType").String(), uint64(ObjectTypeVAR))

		switch uint8(objType) {
		case ObjectTypeVAR, ObjectTypeDOMAIN:
			variable, err := newVariableFromSection(section, 0, nodeId)
			if err != nil {
				return nil, fmt.Errorf("failed to parse entry x%x : %v", index, err)
			}
			entry := &Entry{
				Index:             index,
				Name:              name,
				ObjectType:        uint8(objType),
				object:            variable,
				subEntriesNameMap: map[string]uint8{},
			}
			odict.addEntry(entry)

		case ObjectTypeARRAY:
			subNumber := parseHexOrDefault(section.Key("SubNumber").String(), 0)
			odict.AddVariableList(index, name, NewArray(uint8(subNumber)))

		case ObjectTypeRECORD:
			odict.AddVariableList(index, name, NewRecord())

		default:
			log.Warnf("[OD][x%x] unknown object type %v, skipping", index, objType)
		}
	}

	// Second pass : sub entries
	for _, section := range iniFile.Sections() {
		sectionName := section.Name()
		matches := matchSubidxRegExp.FindStringSubmatch(sectionName)
		if matches == nil {
			continue
		}
		idx, err := strconv.ParseUint(matches[1], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("failed to parse index of %v : %v", sectionName, err)
		}
		sidx, err := strconv.ParseUint(matches[2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to parse subindex of %v : %v", sectionName, err)
		}
		entry := odict.Index(uint16(idx))
		if entry == nil {
			return nil, fmt.Errorf("sub entry %v has no parent entry", sectionName)
		}
		list, ok := entry.object.(*VariableList)
		if !ok {
			return nil, fmt.Errorf("sub entry %v parent is not a record or array", sectionName)
		}
		variable, err := newVariableFromSection(section, uint8(sidx), nodeId)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sub entry %v : %v", sectionName, err)
		}
		if entry.ObjectType == ObjectTypeARRAY {
			if int(sidx) >= len(list.Variables) {
				return nil, fmt.Errorf("sub entry %v is out of bounds", sectionName)
			}
			list.Variables[sidx] = variable
		} else {
			list.Variables = append(list.Variables, variable)
		}
		entry.subEntriesNameMap[variable.Name] = uint8(sidx)
	}
	return odict, nil
}

// Build a [Variable] from an ini section
func newVariableFromSection(section *ini.Section, subindex uint8, nodeId uint8) (*Variable, error) {
	name := section.Key("ParameterName").String()
	dataTypeStr := section.Key("DataType").String()
	if dataTypeStr == "" {
		return nil, fmt.Errorf("need data type")
	}
	dataType, err := strconv.ParseUint(dataTypeStr, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse data type %v : %v", dataTypeStr, err)
	}
	accessType := section.Key("AccessType").String()
	attribute := EncodeAttribute(accessType, uint8(dataType))

	defaultValue := section.Key("DefaultValue").String()
	offset := nodeId
	if strings.Contains(defaultValue, "$NODEID") {
		defaultValue = matchNodeIdRegExp.ReplaceAllString(defaultValue, "")
	} else {
		offset = 0
	}
	variable, err := NewVariableWithNodeId(subindex, name, uint8(dataType), attribute, defaultValue, offset)
	if err != nil {
		return nil, err
	}
	if err := variable.SetLimits(section.Key("LowLimit").String(), section.Key("HighLimit").String()); err != nil {
		return nil, err
	}
	return variable, nil
}

func parseHexOrDefault(value string, fallback uint64) uint64 {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return fallback
	}
	return parsed
}
