package sdo

import (
	"sync"
	"time"

	gosdo "github.com/openfieldbus/gosdo"
	"github.com/openfieldbus/gosdo/pkg/od"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// UploadRequest describes a read of a remote object dictionary entry
type UploadRequest struct {
	ServerId uint8
	Index    uint16
	SubIndex uint8
	// Per transfer timeout, DefaultClientTimeout when zero
	Timeout time.Duration
	// Optional CiA data type used to decode the raw result
	DataType uint8
}

// DownloadRequest describes a write to a remote object dictionary entry
type DownloadRequest struct {
	ServerId uint8
	// Raw bytes, or any value encodable for the given DataType
	Data     any
	Index    uint16
	SubIndex uint8
	// Per transfer timeout, DefaultClientTimeout when zero
	Timeout time.Duration
	// Optional CiA data type used to encode Data when it is not raw bytes
	DataType uint8
}

// serverLink is one entry of the client peer table
type serverLink struct {
	serverId uint8
	cobIdTx  uint32
	cobIdRx  uint32
	queue    *queue
}

// SDOClient initiates expedited and segmented transfers towards remote
// SDO servers. Servers are configured through the object dictionary
// communication parameter records x1280..x12FF.
type SDOClient struct {
	*gosdo.BusManager
	mu        sync.Mutex
	od        *od.ObjectDictionary
	nodeId    uint8
	servers   map[uint8]*serverLink
	transfers map[uint32]*transfer
}

// NewClient creates an SDO client attached to a bus manager and an object
// dictionary. Call Init to build the peer table from the dictionary.
func NewClient(bm *gosdo.BusManager, odict *od.ObjectDictionary, nodeId uint8) (*SDOClient, error) {
	if bm == nil || odict == nil {
		return nil, gosdo.ErrIllegalArgument
	}
	if nodeId > 127 {
		return nil, gosdo.ErrRange
	}
	return &SDOClient{
		BusManager: bm,
		od:         odict,
		nodeId:     nodeId,
		servers:    make(map[uint8]*serverLink),
		transfers:  make(map[uint32]*transfer),
	}, nil
}

// AddServer configures a new server with the CiA predefined connection
// set COB-IDs (0x600 + id / 0x580 + id, applied at Init time)
func (c *SDOClient) AddServer(serverId uint8) error {
	return c.AddServerCobIds(serverId, uint32(ClientServiceId), uint32(ServerServiceId))
}

// AddServerCobIds configures a new server with explicit COB-IDs.
// It allocates the next free entry in x1280..x12FF and writes sub entries
// 1 (COB-ID client to server), 2 (COB-ID server to client) and
// 3 (server node id). The peer table is rebuilt on the next Init.
func (c *SDOClient) AddServerCobIds(serverId uint8, cobIdTx uint32, cobIdRx uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return addParameterRecord(c.od,
		od.EntrySDOClientParamBase, od.SDOParamRangeCount,
		"SDO client parameter", serverId, cobIdTx, cobIdRx, 1, 2, 3)
}

// RemoveServer deletes the matching communication parameter record and
// drops the live peer, fails with ErrNotFound when the id is unknown
func (c *SDOClient) RemoveServer(serverId uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := removeParameterRecord(c.od, od.EntrySDOClientParamBase, od.SDOParamRangeCount, serverId, 3)
	if err != nil {
		return err
	}
	link, ok := c.servers[serverId]
	if ok {
		c.Unsubscribe(link.cobIdRx, c)
		delete(c.servers, serverId)
	}
	return nil
}

// Init scans x1280..x12FF and builds the active peer table.
// Entries flagged invalid (bit 31) are skipped, dynamic or extended
// COB-IDs (bits 30 / 29) fail hard. Must be called again after the
// parameter records change.
func (c *SDOClient) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers, err := scanParameters(c.od,
		od.EntrySDOClientParamBase, od.SDOParamRangeCount, 1, 2, 3)
	if err != nil {
		return err
	}
	for _, link := range c.servers {
		c.Unsubscribe(link.cobIdRx, c)
	}
	c.servers = make(map[uint8]*serverLink)
	for _, peer := range peers {
		if peer.peerId < 1 || peer.peerId > 127 {
			log.Warnf("[CLIENT] skipping parameter entry with invalid server id %v", peer.peerId)
			continue
		}
		link := &serverLink{
			serverId: peer.peerId,
			cobIdTx:  peer.cobIdTx,
			cobIdRx:  peer.cobIdRx,
			queue:    newQueue(),
		}
		c.servers[peer.peerId] = link
		err := c.Subscribe(link.cobIdRx, gosdo.CanSffMask, c)
		if err != nil {
			return err
		}
		log.Debugf("[CLIENT] configured server x%x | tx x%x rx x%x", link.serverId, link.cobIdTx, link.cobIdRx)
	}
	return nil
}

// Servers returns the configured server ids in ascending order
func (c *SDOClient) Servers() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := maps.Keys(c.servers)
	slices.Sort(ids)
	return ids
}

// Upload reads a value from a remote server. The raw result is decoded
// with the requested data type, raw bytes are returned when no data type
// is given.
func (c *SDOClient) Upload(req UploadRequest) (any, error) {
	raw, err := c.UploadRaw(req)
	if err != nil {
		return nil, err
	}
	return od.Decode(raw, req.DataType)
}

// UploadRaw reads the raw bytes of a remote object dictionary entry.
// The request is queued behind any other transfer towards the same server
// and the call blocks until completion, abort or timeout.
func (c *SDOClient) UploadRaw(req UploadRequest) ([]byte, error) {
	link, timeout, err := c.prepare(req.ServerId, req.Timeout)
	if err != nil {
		return nil, err
	}
	t := newTransfer(req.ServerId, req.Index, req.SubIndex, link.cobIdTx, link.cobIdRx, timeout)
	link.queue.push(func(complete func()) {
		c.mu.Lock()
		defer c.mu.Unlock()
		t.complete = complete
		t.state = stateUploadInitiateRsp
		c.transfers[t.cobIdRx] = t
		log.Debugf("[CLIENT][TX] upload initiate | x%x:x%x", t.index, t.subindex)
		if err := c.send(t, encodeUploadInitiate(t.index, t.subindex)); err != nil {
			return
		}
		t.start(c.onTimeout(t))
	})
	result := <-t.done
	return result.data, result.err
}

// Download writes a value to a remote object dictionary entry.
// Payloads of four bytes or less use an expedited transfer, larger
// payloads the segmented protocol. The request is queued behind any other
// transfer towards the same server and the call blocks until completion,
// abort or timeout.
func (c *SDOClient) Download(req DownloadRequest) error {
	data, odErr := od.Encode(req.Data, req.DataType)
	if odErr != nil {
		return odErr
	}
	if len(data) == 0 {
		return gosdo.ErrIllegalArgument
	}
	link, timeout, err := c.prepare(req.ServerId, req.Timeout)
	if err != nil {
		return err
	}
	t := newTransfer(req.ServerId, req.Index, req.SubIndex, link.cobIdTx, link.cobIdRx, timeout)
	t.data = data
	t.size = uint32(len(data))
	t.sizeIndicated = true
	link.queue.push(func(complete func()) {
		c.mu.Lock()
		defer c.mu.Unlock()
		t.complete = complete
		t.state = stateDownloadInitiateRsp
		c.transfers[t.cobIdRx] = t
		if len(t.data) <= ExpeditedDataSize {
			log.Debugf("[CLIENT][TX] download expedited | x%x:x%x %v", t.index, t.subindex, t.data)
		} else {
			log.Debugf("[CLIENT][TX] download initiate | x%x:x%x size %v", t.index, t.subindex, t.size)
		}
		if err := c.send(t, encodeDownloadInitiate(t.index, t.subindex, t.data)); err != nil {
			return
		}
		t.start(c.onTimeout(t))
	})
	result := <-t.done
	return result.err
}

func (c *SDOClient) prepare(serverId uint8, timeout time.Duration) (*serverLink, time.Duration, error) {
	c.mu.Lock()
	link, ok := c.servers[serverId]
	c.mu.Unlock()
	if !ok {
		return nil, 0, gosdo.ErrNotFound
	}
	if timeout == 0 {
		timeout = DefaultClientTimeout
	}
	return link, timeout, nil
}

// Handle implements the frame listener interface and drives the state
// machine of the in-flight transfer matching the received COB-ID.
// Frames for no longer active transfers are silently dropped.
func (c *SDOClient) Handle(frame gosdo.Frame) {
	if frame.DLC != 8 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transfers[frame.ID]
	if !ok || !t.active {
		log.Debugf("[CLIENT][RX] ignoring frame x%x, no active transfer", frame.ID)
		return
	}
	response := NewSDOMessage(frame.Data)
	if response.IsAbort() {
		code := response.GetAbortCode()
		log.Debugf("[CLIENT][RX] server abort | x%x:x%x | %v (x%x)", t.index, t.subindex, code.Description(), uint32(code))
		c.finishTransfer(t, transferResult{err: &Error{Code: code, Index: t.index, SubIndex: t.subindex}})
		return
	}
	switch t.state {
	case stateUploadInitiateRsp:
		c.rxUploadInitiate(t, response)
	case stateUploadSegmentRsp:
		c.rxUploadSegment(t, response)
	case stateDownloadInitiateRsp:
		c.rxDownloadInitiate(t, response)
	case stateDownloadSegmentRsp:
		c.rxDownloadSegment(t, response)
	default:
		c.abortTransfer(t, AbortCmd)
	}
}

func (c *SDOClient) rxUploadInitiate(t *transfer, response SDOMessage) {
	if response.CommandSpecifier() != csUploadInitiate ||
		response.GetIndex() != t.index || response.GetSubindex() != t.subindex {
		log.Warnf("[CLIENT][RX] unexpected upload initiate response x%x", response.raw[0])
		c.abortTransfer(t, AbortCmd)
		return
	}
	if response.IsExpedited() {
		count := response.ExpeditedCount()
		data := make([]byte, count)
		copy(data, response.raw[4:4+count])
		log.Debugf("[CLIENT][RX] upload expedited | x%x:x%x %v", t.index, t.subindex, response.raw)
		c.finishTransfer(t, transferResult{data: data})
		return
	}
	// Segmented transfer
	if response.IsSizeIndicated() {
		t.size = response.SizeIndicated()
		t.sizeIndicated = true
	}
	t.toggle = 0x00
	log.Debugf("[CLIENT][RX] upload segmented | x%x:x%x size %v", t.index, t.subindex, t.size)
	t.refresh()
	c.sendUploadSegmentRequest(t)
}

func (c *SDOClient) rxUploadSegment(t *transfer, response SDOMessage) {
	if response.CommandSpecifier() != csDownloadSegment {
		log.Warnf("[CLIENT][RX] unexpected upload segment response x%x", response.raw[0])
		c.abortTransfer(t, AbortCmd)
		return
	}
	if response.GetToggle() != t.toggle {
		c.abortTransfer(t, AbortToggleBit)
		return
	}
	count := response.SegmentCount()
	t.buffer = append(t.buffer, response.raw[1:1+count]...)
	t.sizeTransferred += uint32(count)
	log.Debugf("[CLIENT][RX] upload segment | x%x:x%x %v", t.index, t.subindex, response.raw)
	if t.sizeIndicated && t.sizeTransferred > t.size {
		c.abortTransfer(t, AbortDataLong)
		return
	}
	if response.IsLastSegment() {
		if t.sizeIndicated && t.sizeTransferred != t.size {
			c.abortTransfer(t, AbortTypeMismatch)
			return
		}
		c.finishTransfer(t, transferResult{data: t.buffer})
		return
	}
	t.toggle ^= flagToggle
	t.refresh()
	c.sendUploadSegmentRequest(t)
}

func (c *SDOClient) sendUploadSegmentRequest(t *transfer) {
	t.state = stateUploadSegmentRsp
	log.Debugf("[CLIENT][TX] upload segment request | x%x:x%x toggle x%x", t.index, t.subindex, t.toggle)
	_ = c.send(t, encodeUploadSegmentRequest(t.toggle))
}

func (c *SDOClient) rxDownloadInitiate(t *transfer, response SDOMessage) {
	if response.raw[0] != csUploadSegment {
		log.Warnf("[CLIENT][RX] unexpected download initiate response x%x", response.raw[0])
		c.abortTransfer(t, AbortCmd)
		return
	}
	if len(t.data) <= ExpeditedDataSize {
		log.Debugf("[CLIENT][RX] download expedited done | x%x:x%x", t.index, t.subindex)
		c.finishTransfer(t, transferResult{})
		return
	}
	t.toggle = 0x00
	t.refresh()
	c.sendDownloadSegment(t)
}

func (c *SDOClient) rxDownloadSegment(t *transfer, response SDOMessage) {
	if (response.raw[0] & 0xEF) != csDownloadInitiate {
		log.Warnf("[CLIENT][RX] unexpected download segment response x%x", response.raw[0])
		c.abortTransfer(t, AbortCmd)
		return
	}
	if response.GetToggle() != t.toggle {
		c.abortTransfer(t, AbortToggleBit)
		return
	}
	log.Debugf("[CLIENT][RX] download segment ack | x%x:x%x %v", t.index, t.subindex, response.raw)
	if t.dataOffset >= len(t.data) {
		c.finishTransfer(t, transferResult{})
		return
	}
	t.toggle ^= flagToggle
	t.refresh()
	c.sendDownloadSegment(t)
}

func (c *SDOClient) sendDownloadSegment(t *transfer) {
	payload, last := t.nextSegment()
	t.dataOffset += len(payload)
	t.sizeTransferred += uint32(len(payload))
	t.state = stateDownloadSegmentRsp
	log.Debugf("[CLIENT][TX] download segment | x%x:x%x toggle x%x last %v", t.index, t.subindex, t.toggle, last)
	_ = c.send(t, encodeSegment(t.toggle, payload, last))
}

// send emits a frame for the given transfer. A transport failure rejects
// the transfer synchronously without emitting an abort frame, the bus is
// presumed down.
func (c *SDOClient) send(t *transfer, data [8]byte) error {
	err := c.Send(gosdo.Frame{ID: t.cobIdTx, DLC: 8, Data: data})
	if err != nil {
		log.Errorf("[CLIENT][TX] transport failure : %v", err)
		c.finishTransfer(t, transferResult{err: err})
	}
	return err
}

// abortTransfer emits an abort frame to the peer and rejects the transfer
func (c *SDOClient) abortTransfer(t *transfer, code Abort) {
	log.Warnf("[CLIENT][TX] client abort | x%x:x%x | %v (x%x)", t.index, t.subindex, code.Description(), uint32(code))
	_ = c.Send(gosdo.Frame{ID: t.cobIdTx, DLC: 8, Data: encodeAbort(t.index, t.subindex, code)})
	c.finishTransfer(t, transferResult{err: &Error{Code: code, Index: t.index, SubIndex: t.subindex}})
}

// finishTransfer resolves or rejects a transfer exactly once, removes it
// from the transfer index and releases the per server queue
func (c *SDOClient) finishTransfer(t *transfer, result transferResult) {
	if !t.active {
		return
	}
	delete(c.transfers, t.cobIdRx)
	complete := t.complete
	t.finish(result)
	if complete != nil {
		// The next queued transfer re-acquires the client lock, release
		// from a separate goroutine
		go complete()
	}
}

func (c *SDOClient) onTimeout(t *transfer) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !t.active {
			return
		}
		log.Warnf("[CLIENT] transfer timed out | x%x:x%x", t.index, t.subindex)
		c.abortTransfer(t, AbortTimeout)
	}
}
