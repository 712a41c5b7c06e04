package sdo

import (
	"fmt"

	gosdo "github.com/openfieldbus/gosdo"
	"github.com/openfieldbus/gosdo/pkg/od"
	log "github.com/sirupsen/logrus"
)

// peerParams is one active connection extracted from the object dictionary
type peerParams struct {
	peerId  uint8
	cobIdTx uint32
	cobIdRx uint32
}

// scanParameters walks the SDO communication parameter records in
// [base, base+count) and extracts the (peer id, COB-ID tx, COB-ID rx)
// triples. subTx & subRx select which record sub entry carries each
// direction, subNode the peer node id.
//
// Per CiA 301 : bit 31 set marks the connection invalid and the entry is
// ignored, bits 30 (dynamic allocation) and 29 (extended frame) are not
// supported and refuse initialization. When the low nibble of a COB-ID is
// zero the peer id is ORed in (predefined connection set behaviour).
func scanParameters(
	odict *od.ObjectDictionary,
	base uint16,
	count uint16,
	subTx uint8,
	subRx uint8,
	subNode uint8,
) ([]peerParams, error) {

	peers := make([]peerParams, 0)
	for offset := uint16(0); offset < count; offset++ {
		entry := odict.Index(base + offset)
		if entry == nil {
			continue
		}
		rawTx, err1 := entry.Uint32(subTx)
		rawRx, err2 := entry.Uint32(subRx)
		if err1 != nil || err2 != nil {
			log.Warnf("[SDO] skipping malformed parameter entry x%x", entry.Index)
			continue
		}
		if rawTx&od.CobIdFlagInvalid != 0 || rawRx&od.CobIdFlagInvalid != 0 {
			continue
		}
		if (rawTx|rawRx)&(od.CobIdFlagDynamic|od.CobIdFlagExtendedFrame) != 0 {
			log.Errorf("[SDO] entry x%x requests dynamic or extended COB-IDs", entry.Index)
			return nil, gosdo.ErrUnsupportedCobId
		}
		peerId, err := entry.Uint8(subNode)
		if err != nil {
			peerId = 0
		}
		cobIdTx := rawTx & od.CobIdMask11Bits
		cobIdRx := rawRx & od.CobIdMask11Bits
		if cobIdTx&0xF == 0 {
			cobIdTx |= uint32(peerId)
		}
		if cobIdRx&0xF == 0 {
			cobIdRx |= uint32(peerId)
		}
		peers = append(peers, peerParams{peerId: peerId, cobIdTx: cobIdTx, cobIdRx: cobIdRx})
	}
	return peers, nil
}

// addParameterRecord writes a new SDO communication parameter record at
// the next free index of [base, base+count). Fails with ErrDuplicate when
// the peer id is already configured in the range.
func addParameterRecord(
	odict *od.ObjectDictionary,
	base uint16,
	count uint16,
	name string,
	peerId uint8,
	cobIdTx uint32,
	cobIdRx uint32,
	subTx uint8,
	subRx uint8,
	subNode uint8,
) error {

	if peerId < 1 || peerId > 127 {
		return gosdo.ErrRange
	}
	var free uint16
	found := false
	for offset := uint16(0); offset < count; offset++ {
		entry := odict.Index(base + offset)
		if entry == nil {
			if !found {
				free = base + offset
				found = true
			}
			continue
		}
		existing, err := entry.Uint8(subNode)
		if err == nil && existing == peerId {
			return gosdo.ErrDuplicate
		}
	}
	if !found {
		return gosdo.ErrOdParameters
	}
	entry := odict.AddVariableList(free, name, od.NewRecord())
	subs := []struct {
		subindex uint8
		name     string
		datatype uint8
		value    string
	}{
		{0, "Highest sub-index supported", od.UNSIGNED8, fmt.Sprintf("0x%X", subNode)},
		{subTx, "COB-ID transmit", od.UNSIGNED32, fmt.Sprintf("0x%X", cobIdTx)},
		{subRx, "COB-ID receive", od.UNSIGNED32, fmt.Sprintf("0x%X", cobIdRx)},
		{subNode, "Node ID", od.UNSIGNED8, fmt.Sprintf("0x%X", peerId)},
	}
	for _, sub := range subs {
		_, err := entry.AddNamedSubObject(sub.subindex, sub.name, sub.datatype, od.AttributeSdoRw, sub.value)
		if err != nil {
			return err
		}
	}
	return nil
}

// removeParameterRecord deletes the record matching the peer id inside
// [base, base+count). Fails with ErrNotFound when no record matches.
func removeParameterRecord(
	odict *od.ObjectDictionary,
	base uint16,
	count uint16,
	peerId uint8,
	subNode uint8,
) error {

	for offset := uint16(0); offset < count; offset++ {
		entry := odict.Index(base + offset)
		if entry == nil {
			continue
		}
		existing, err := entry.Uint8(subNode)
		if err == nil && existing == peerId {
			odict.Delete(entry.Index)
			return nil
		}
	}
	return gosdo.ErrNotFound
}
