package sdo

import (
	"sync"
	"time"

	gosdo "github.com/openfieldbus/gosdo"
	"github.com/openfieldbus/gosdo/internal/fifo"
	"github.com/openfieldbus/gosdo/pkg/od"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// clientLink is one entry of the server peer table
type clientLink struct {
	clientId uint8
	cobIdRx  uint32 // client to server
	cobIdTx  uint32 // server to client
}

// serverTransfer is the per client context of the server state machine.
// One context exists for every recognized client, idle between transfers.
type serverTransfer struct {
	clientId uint8
	cobIdRx  uint32
	cobIdTx  uint32
	index    uint16
	subindex uint8
	// Download accumulator
	buffer []byte
	// Upload source
	fifo *fifo.Fifo
	// Declared total size when known
	size            uint32
	sizeIndicated   bool
	sizeTransferred uint32
	toggle          uint8
	state           internalState
	timer           *time.Timer
}

// SDOServer answers transfers initiated by remote SDO clients against the
// local object dictionary. Clients are configured through the object
// dictionary communication parameter records x1200..x127F.
type SDOServer struct {
	*gosdo.BusManager
	mu        sync.Mutex
	od        *od.ObjectDictionary
	nodeId    uint8
	timeout   time.Duration
	clients   map[uint8]*clientLink
	transfers map[uint32]*serverTransfer
}

// NewServer creates an SDO server attached to a bus manager and an object
// dictionary. Call Init to build the peer table from the dictionary.
func NewServer(bm *gosdo.BusManager, odict *od.ObjectDictionary, nodeId uint8) (*SDOServer, error) {
	if bm == nil || odict == nil {
		return nil, gosdo.ErrIllegalArgument
	}
	if nodeId > 127 {
		return nil, gosdo.ErrRange
	}
	return &SDOServer{
		BusManager: bm,
		od:         odict,
		nodeId:     nodeId,
		timeout:    DefaultServerTimeout,
		clients:    make(map[uint8]*clientLink),
		transfers:  make(map[uint32]*serverTransfer),
	}, nil
}

// SetTimeout changes the inactivity timeout of segmented transfers
func (s *SDOServer) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
}

// AddClient configures a new client with the CiA predefined connection
// set COB-IDs (0x580 + id / 0x600 + id, applied at Init time)
func (s *SDOServer) AddClient(clientId uint8) error {
	return s.AddClientCobIds(clientId, uint32(ServerServiceId), uint32(ClientServiceId))
}

// AddClientCobIds configures a new client with explicit COB-IDs.
// It allocates the next free entry in x1200..x127F and writes sub entries
// 1 (COB-ID client to server), 2 (COB-ID server to client) and
// 3 (client node id). The peer table is rebuilt on the next Init.
func (s *SDOServer) AddClientCobIds(clientId uint8, cobIdTx uint32, cobIdRx uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addParameterRecord(s.od,
		od.EntrySDOServerParamBase, od.SDOParamRangeCount,
		"SDO server parameter", clientId, cobIdTx, cobIdRx, 2, 1, 3)
}

// RemoveClient deletes the matching communication parameter record and
// drops the live peer, fails with ErrNotFound when the id is unknown
func (s *SDOServer) RemoveClient(clientId uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := removeParameterRecord(s.od, od.EntrySDOServerParamBase, od.SDOParamRangeCount, clientId, 3)
	if err != nil {
		return err
	}
	link, ok := s.clients[clientId]
	if ok {
		s.Unsubscribe(link.cobIdRx, s)
		delete(s.clients, clientId)
		delete(s.transfers, link.cobIdRx)
	}
	return nil
}

// Init scans x1200..x127F and builds the active peer table with one idle
// transfer context per client. Entries flagged invalid (bit 31) are
// skipped, dynamic or extended COB-IDs (bits 30 / 29) fail hard.
// Must be called again after the parameter records change.
func (s *SDOServer) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers, err := scanParameters(s.od,
		od.EntrySDOServerParamBase, od.SDOParamRangeCount, 2, 1, 3)
	if err != nil {
		return err
	}
	for _, link := range s.clients {
		s.Unsubscribe(link.cobIdRx, s)
	}
	s.clients = make(map[uint8]*clientLink)
	s.transfers = make(map[uint32]*serverTransfer)
	for _, peer := range peers {
		link := &clientLink{clientId: peer.peerId, cobIdRx: peer.cobIdRx, cobIdTx: peer.cobIdTx}
		s.clients[peer.peerId] = link
		s.transfers[link.cobIdRx] = &serverTransfer{
			clientId: peer.peerId,
			cobIdRx:  link.cobIdRx,
			cobIdTx:  link.cobIdTx,
			state:    stateIdle,
		}
		err := s.Subscribe(link.cobIdRx, gosdo.CanSffMask, s)
		if err != nil {
			return err
		}
		log.Debugf("[SERVER] configured client x%x | rx x%x tx x%x", link.clientId, link.cobIdRx, link.cobIdTx)
	}
	return nil
}

// Clients returns the configured client ids in ascending order
func (s *SDOServer) Clients() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := maps.Keys(s.clients)
	slices.Sort(ids)
	return ids
}

// Handle implements the frame listener interface and drives the state
// machine of the context matching the received COB-ID, dispatched on the
// client command specifier
func (s *SDOServer) Handle(frame gosdo.Frame) {
	if frame.DLC != 8 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[frame.ID]
	if !ok {
		return
	}
	rx := NewSDOMessage(frame.Data)
	if rx.IsAbort() {
		// Client abort releases the context, nothing is sent back
		log.Warnf("[SERVER][RX] client abort | x%x:x%x | %v (x%x)",
			t.index, t.subindex, rx.GetAbortCode().Description(), uint32(rx.GetAbortCode()))
		s.resetTransfer(t)
		return
	}
	switch rx.CommandSpecifier() {
	case csDownloadInitiate:
		s.rxDownloadInitiate(t, rx)
	case csDownloadSegment:
		if t.state != stateDownloadSegmentReq {
			s.txAbort(t, AbortCmd)
			return
		}
		s.rxDownloadSegment(t, rx)
	case csUploadInitiate:
		s.rxUploadInitiate(t, rx)
	case csUploadSegment:
		if t.state != stateUploadSegmentReq {
			s.txAbort(t, AbortCmd)
			return
		}
		s.rxUploadSegment(t, rx)
	default:
		// Includes the block transfer specifiers, recognized but refused.
		// Block initiate frames carry index & subindex, echo them back.
		if rx.CommandSpecifier() == csBlockUpload || rx.CommandSpecifier() == csBlockDownload {
			t.index = rx.GetIndex()
			t.subindex = rx.GetSubindex()
		}
		s.txAbort(t, AbortCmd)
	}
}

// lookupVariable resolves the addressed entry and checks the access type
func (s *SDOServer) lookupVariable(index uint16, subindex uint8, upload bool) (*od.Variable, Abort) {
	entry := s.od.Index(index)
	if entry == nil {
		return nil, AbortNotExist
	}
	variable, err := entry.SubIndex(subindex)
	if err != nil {
		return nil, AbortSubUnknown
	}
	if upload && !variable.HasAttribute(od.AttributeSdoR) {
		return nil, AbortWriteOnly
	}
	if !upload && !variable.HasAttribute(od.AttributeSdoW) {
		return nil, AbortReadOnly
	}
	return variable, 0
}

func (s *SDOServer) rxDownloadInitiate(t *serverTransfer, rx SDOMessage) {
	t.index = rx.GetIndex()
	t.subindex = rx.GetSubindex()
	variable, abort := s.lookupVariable(t.index, t.subindex, false)
	if abort != 0 {
		s.txAbort(t, abort)
		return
	}
	if rx.IsExpedited() {
		log.Debugf("[SERVER][RX] download expedited | x%x:x%x %v", t.index, t.subindex, rx.raw)
		count := int(rx.ExpeditedCount())
		if !rx.IsSizeIndicated() {
			// No size in the request, fall back to the od variable size
			// when it is smaller than four bytes
			if size := od.SizeOfDataType(variable.DataType); size > 0 && size < count {
				count = size
			}
		}
		data := make([]byte, count)
		copy(data, rx.raw[4:4+count])
		if !s.commit(t, variable, data) {
			return
		}
		s.sendResponse(t, encodeDownloadInitiateResponse(t.index, t.subindex))
		log.Debugf("[SERVER][TX] download expedited done | x%x:x%x", t.index, t.subindex)
		s.resetTransfer(t)
		return
	}
	// Segmented transfer, reset accumulator & toggle then ack
	log.Debugf("[SERVER][RX] download segmented | x%x:x%x %v", t.index, t.subindex, rx.raw)
	t.buffer = t.buffer[:0]
	t.size = 0
	t.sizeIndicated = false
	if rx.IsSizeIndicated() {
		t.size = rx.SizeIndicated()
		t.sizeIndicated = true
	}
	t.sizeTransferred = 0
	t.toggle = 0x00
	t.state = stateDownloadSegmentReq
	s.sendResponse(t, encodeDownloadInitiateResponse(t.index, t.subindex))
	s.armTimer(t)
}

func (s *SDOServer) rxDownloadSegment(t *serverTransfer, rx SDOMessage) {
	if rx.GetToggle() != t.toggle {
		s.txAbort(t, AbortToggleBit)
		return
	}
	count := rx.SegmentCount()
	t.buffer = append(t.buffer, rx.raw[1:1+count]...)
	t.sizeTransferred += uint32(count)
	log.Debugf("[SERVER][RX] download segment | x%x:x%x %v", t.index, t.subindex, rx.raw)
	if t.sizeIndicated && t.sizeTransferred > t.size {
		s.txAbort(t, AbortDataLong)
		return
	}
	if rx.IsLastSegment() {
		if t.sizeIndicated && t.sizeTransferred != t.size {
			s.txAbort(t, AbortTypeMismatch)
			return
		}
		// Re-resolve the entry, access or limits may have changed while
		// the transfer was in flight. Data is committed only now.
		variable, abort := s.lookupVariable(t.index, t.subindex, false)
		if abort != 0 {
			s.txAbort(t, abort)
			return
		}
		if !s.commit(t, variable, t.buffer) {
			return
		}
		s.sendResponse(t, encodeDownloadSegmentResponse(t.toggle))
		log.Debugf("[SERVER][TX] download segmented done | x%x:x%x (%v bytes)", t.index, t.subindex, t.sizeTransferred)
		s.resetTransfer(t)
		return
	}
	s.sendResponse(t, encodeDownloadSegmentResponse(t.toggle))
	t.toggle ^= flagToggle
	s.refreshTimer(t)
}

// commit range checks then writes a raw value into the addressed variable,
// aborting the transfer on failure
func (s *SDOServer) commit(t *serverTransfer, variable *od.Variable, data []byte) bool {
	if err := variable.CheckLimits(data); err != nil {
		s.txAbort(t, ConvertOdToSdoAbort(err.(od.ODR)))
		return false
	}
	if err := variable.SetBytes(data); err != nil {
		s.txAbort(t, ConvertOdToSdoAbort(err.(od.ODR)))
		return false
	}
	return true
}

func (s *SDOServer) rxUploadInitiate(t *serverTransfer, rx SDOMessage) {
	t.index = rx.GetIndex()
	t.subindex = rx.GetSubindex()
	variable, abort := s.lookupVariable(t.index, t.subindex, true)
	if abort != 0 {
		s.txAbort(t, abort)
		return
	}
	data := variable.Bytes()
	log.Debugf("[SERVER][RX] upload initiate | x%x:x%x (%v bytes)", t.index, t.subindex, len(data))
	if len(data) == 0 {
		s.txAbort(t, AbortNoData)
		return
	}
	if len(data) <= ExpeditedDataSize {
		s.sendResponse(t, encodeUploadExpeditedResponse(t.index, t.subindex, data))
		log.Debugf("[SERVER][TX] upload expedited | x%x:x%x %v", t.index, t.subindex, data)
		s.resetTransfer(t)
		return
	}
	// Segmented transfer, announce the total length
	t.fifo = fifo.NewFifo(len(data) + 1)
	t.fifo.Write(data)
	t.size = uint32(len(data))
	t.sizeTransferred = 0
	t.toggle = 0x00
	t.state = stateUploadSegmentReq
	s.sendResponse(t, encodeUploadSegmentedResponse(t.index, t.subindex, t.size))
	log.Debugf("[SERVER][TX] upload segmented | x%x:x%x size %v", t.index, t.subindex, t.size)
	s.armTimer(t)
}

func (s *SDOServer) rxUploadSegment(t *serverTransfer, rx SDOMessage) {
	if (rx.raw[0] & 0xEF) != csUploadSegment {
		s.txAbort(t, AbortCmd)
		return
	}
	if rx.GetToggle() != t.toggle {
		s.txAbort(t, AbortToggleBit)
		return
	}
	chunk := make([]byte, SegmentDataSize)
	count := t.fifo.Read(chunk)
	last := t.fifo.GetOccupied() == 0
	t.sizeTransferred += uint32(count)
	s.sendResponse(t, encodeSegment(t.toggle, chunk[:count], last))
	log.Debugf("[SERVER][TX] upload segment | x%x:x%x toggle x%x last %v", t.index, t.subindex, t.toggle, last)
	if last {
		s.resetTransfer(t)
		return
	}
	t.toggle ^= flagToggle
	s.refreshTimer(t)
}

func (s *SDOServer) sendResponse(t *serverTransfer, data [8]byte) {
	err := s.Send(gosdo.Frame{ID: t.cobIdTx, DLC: 8, Data: data})
	if err != nil {
		// Bus is presumed down, release the context without an abort frame
		log.Errorf("[SERVER][TX] transport failure : %v", err)
		s.resetTransfer(t)
	}
}

// txAbort emits an abort frame to the client and releases the context
func (s *SDOServer) txAbort(t *serverTransfer, code Abort) {
	log.Warnf("[SERVER][TX] server abort | x%x:x%x | %v (x%x)", t.index, t.subindex, code.Description(), uint32(code))
	_ = s.Send(gosdo.Frame{ID: t.cobIdTx, DLC: 8, Data: encodeAbort(t.index, t.subindex, code)})
	s.resetTransfer(t)
}

// resetTransfer returns a context to idle between transfers
func (s *SDOServer) resetTransfer(t *serverTransfer) {
	t.state = stateIdle
	t.buffer = nil
	t.fifo = nil
	t.size = 0
	t.sizeIndicated = false
	t.sizeTransferred = 0
	t.toggle = 0x00
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (s *SDOServer) armTimer(t *serverTransfer) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t.state == stateIdle {
			return
		}
		log.Warnf("[SERVER] transfer timed out | x%x:x%x", t.index, t.subindex)
		s.txAbort(t, AbortTimeout)
	})
}

func (s *SDOServer) refreshTimer(t *serverTransfer) {
	if t.timer != nil {
		t.timer.Reset(s.timeout)
	}
}
