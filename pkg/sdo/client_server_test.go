package sdo

import (
	"strings"
	"sync"
	"testing"
	"time"

	gosdo "github.com/openfieldbus/gosdo"
	"github.com/openfieldbus/gosdo/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNodeId = 0x0B

func newServerOD(t *testing.T) *od.ObjectDictionary {
	t.Helper()
	odict := od.NewOD()
	_, err := odict.AddVariableType(0x2000, "UNSIGNED8 value", od.UNSIGNED8, od.AttributeSdoRw, "0x42")
	require.Nil(t, err)
	_, err = odict.AddVariableType(0x2001, "UNSIGNED32 value", od.UNSIGNED32, od.AttributeSdoRw, "0x0")
	require.Nil(t, err)
	_, err = odict.AddVariableType(0x2002, "read only value", od.UNSIGNED8, od.AttributeSdoR, "0x11")
	require.Nil(t, err)
	_, err = odict.AddVariableType(0x2003, "string value", od.VISIBLE_STRING, od.AttributeSdoRw|od.AttributeStr, "")
	require.Nil(t, err)
	_, err = odict.AddVariableType(0x2004, "write only value", od.UNSIGNED8, od.AttributeSdoW, "0x0")
	require.Nil(t, err)
	limited, err := odict.AddVariableType(0x2005, "limited value", od.UNSIGNED16, od.AttributeSdoRw, "0x50")
	require.Nil(t, err)
	variable, err := limited.SubIndex(0)
	require.Nil(t, err)
	require.Nil(t, variable.SetLimits("0x10", "0x100"))
	_, err = odict.AddVariableType(0x2006, "long string value", od.VISIBLE_STRING, od.AttributeSdoRw|od.AttributeStr,
		strings.Repeat("canopen", 10))
	require.Nil(t, err)
	record := od.NewRecord()
	_, err = record.AddSubObject(0, "Highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, "0x1")
	require.Nil(t, err)
	_, err = record.AddSubObject(1, "member", od.UNSIGNED16, od.AttributeSdoRw, "0x1234")
	require.Nil(t, err)
	odict.AddVariableList(0x2100, "record value", record)
	return odict
}

// Spin up a connected client / server pair over a virtual bus
func newTestPair(t *testing.T) (*SDOClient, *SDOServer, *od.ObjectDictionary) {
	t.Helper()
	network := gosdo.NewVirtualNetwork()
	clientBus := network.NewBus()
	serverBus := network.NewBus()
	require.Nil(t, clientBus.Connect())
	require.Nil(t, serverBus.Connect())
	t.Cleanup(func() {
		_ = clientBus.Disconnect()
		_ = serverBus.Disconnect()
	})
	bmClient, err := gosdo.NewBusManager(clientBus)
	require.Nil(t, err)
	bmServer, err := gosdo.NewBusManager(serverBus)
	require.Nil(t, err)

	serverOd := newServerOD(t)
	server, err := NewServer(bmServer, serverOd, testNodeId)
	require.Nil(t, err)
	require.Nil(t, server.AddClient(testNodeId))
	require.Nil(t, server.Init())

	client, err := NewClient(bmClient, od.NewOD(), 0x01)
	require.Nil(t, err)
	require.Nil(t, client.AddServer(testNodeId))
	require.Nil(t, client.Init())
	return client, server, serverOd
}

func TestUploadExpedited(t *testing.T) {
	client, _, _ := newTestPair(t)
	value, err := client.Upload(UploadRequest{ServerId: testNodeId, Index: 0x2000, DataType: od.UNSIGNED8})
	require.Nil(t, err)
	assert.EqualValues(t, 0x42, value)
}

func TestDownloadExpedited(t *testing.T) {
	client, _, serverOd := newTestPair(t)
	err := client.Download(DownloadRequest{
		ServerId: testNodeId,
		Index:    0x2001,
		Data:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
	})
	require.Nil(t, err)
	variable, err := serverOd.Index(0x2001).SubIndex(0)
	require.Nil(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, variable.Bytes())
}

func TestDownloadSegmented(t *testing.T) {
	client, _, serverOd := newTestPair(t)
	err := client.Download(DownloadRequest{
		ServerId: testNodeId,
		Index:    0x2003,
		Data:     "HelloWorld",
		DataType: od.VISIBLE_STRING,
	})
	require.Nil(t, err)
	variable, err := serverOd.Index(0x2003).SubIndex(0)
	require.Nil(t, err)
	assert.Equal(t, []byte("HelloWorld"), variable.Bytes())
}

func TestUploadSegmented(t *testing.T) {
	client, _, _ := newTestPair(t)
	expected := strings.Repeat("canopen", 10)
	value, err := client.Upload(UploadRequest{
		ServerId: testNodeId,
		Index:    0x2006,
		DataType: od.VISIBLE_STRING,
		Timeout:  100 * time.Millisecond,
	})
	require.Nil(t, err)
	assert.Equal(t, expected, value)
}

func TestDownloadThenUploadRoundTrip(t *testing.T) {
	client, _, _ := newTestPair(t)
	err := client.Download(DownloadRequest{
		ServerId: testNodeId,
		Index:    0x2001,
		Data:     uint32(0xCAFEBABE),
		DataType: od.UNSIGNED32,
	})
	require.Nil(t, err)
	value, err := client.Upload(UploadRequest{ServerId: testNodeId, Index: 0x2001, DataType: od.UNSIGNED32})
	require.Nil(t, err)
	assert.EqualValues(t, uint32(0xCAFEBABE), value)
}

func TestUploadRecordSubIndex(t *testing.T) {
	client, _, _ := newTestPair(t)
	value, err := client.Upload(UploadRequest{ServerId: testNodeId, Index: 0x2100, SubIndex: 1, DataType: od.UNSIGNED16})
	require.Nil(t, err)
	assert.EqualValues(t, 0x1234, value)
}

func TestDownloadReadOnlyRefused(t *testing.T) {
	client, _, _ := newTestPair(t)
	err := client.Download(DownloadRequest{ServerId: testNodeId, Index: 0x2002, Data: []byte{0x01}})
	var sdoErr *Error
	require.ErrorAs(t, err, &sdoErr)
	assert.Equal(t, AbortReadOnly, sdoErr.Code)
}

func TestUploadWriteOnlyRefused(t *testing.T) {
	client, _, _ := newTestPair(t)
	_, err := client.Upload(UploadRequest{ServerId: testNodeId, Index: 0x2004})
	var sdoErr *Error
	require.ErrorAs(t, err, &sdoErr)
	assert.Equal(t, AbortWriteOnly, sdoErr.Code)
}

func TestMissingObjectAndSubIndex(t *testing.T) {
	client, _, _ := newTestPair(t)
	_, err := client.Upload(UploadRequest{ServerId: testNodeId, Index: 0x5000})
	var sdoErr *Error
	require.ErrorAs(t, err, &sdoErr)
	assert.Equal(t, AbortNotExist, sdoErr.Code)

	_, err = client.Upload(UploadRequest{ServerId: testNodeId, Index: 0x2100, SubIndex: 5})
	require.ErrorAs(t, err, &sdoErr)
	assert.Equal(t, AbortSubUnknown, sdoErr.Code)
}

func TestDownloadLimits(t *testing.T) {
	client, _, serverOd := newTestPair(t)
	err := client.Download(DownloadRequest{
		ServerId: testNodeId, Index: 0x2005, Data: uint16(0x200), DataType: od.UNSIGNED16,
	})
	var sdoErr *Error
	require.ErrorAs(t, err, &sdoErr)
	assert.Equal(t, AbortValueHigh, sdoErr.Code)

	err = client.Download(DownloadRequest{
		ServerId: testNodeId, Index: 0x2005, Data: uint16(0x05), DataType: od.UNSIGNED16,
	})
	require.ErrorAs(t, err, &sdoErr)
	assert.Equal(t, AbortValueLow, sdoErr.Code)

	// Inside the limits the value commits
	err = client.Download(DownloadRequest{
		ServerId: testNodeId, Index: 0x2005, Data: uint16(0x80), DataType: od.UNSIGNED16,
	})
	require.Nil(t, err)
	value, err := serverOd.Index(0x2005).Uint16(0)
	require.Nil(t, err)
	assert.EqualValues(t, 0x80, value)
}

func TestUnknownServer(t *testing.T) {
	client, _, _ := newTestPair(t)
	_, err := client.Upload(UploadRequest{ServerId: 0x55, Index: 0x2000})
	assert.Equal(t, gosdo.ErrNotFound, err)
}

func TestTransfersSerializePerServer(t *testing.T) {
	client, _, _ := newTestPair(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := client.Upload(UploadRequest{
				ServerId: testNodeId,
				Index:    0x2000,
				DataType: od.UNSIGNED8,
				Timeout:  500 * time.Millisecond,
			})
			assert.Nil(t, err)
			assert.EqualValues(t, 0x42, value)
		}()
	}
	wg.Wait()
}

// A scripted peer answers frames with canned responses, used to exercise
// protocol violations a well behaved server never produces
type scriptedPeer struct {
	bm      *gosdo.BusManager
	mu      sync.Mutex
	seen    []gosdo.Frame
	respond func(frame gosdo.Frame) [][8]byte
}

func (p *scriptedPeer) Handle(frame gosdo.Frame) {
	p.mu.Lock()
	p.seen = append(p.seen, frame)
	respond := p.respond
	p.mu.Unlock()
	if respond == nil {
		return
	}
	for _, data := range respond(frame) {
		_ = p.bm.Send(gosdo.Frame{ID: 0x580 | testNodeId, DLC: 8, Data: data})
	}
}

func (p *scriptedPeer) frames() []gosdo.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gosdo.Frame{}, p.seen...)
}

func newScriptedPair(t *testing.T) (*SDOClient, *scriptedPeer) {
	t.Helper()
	network := gosdo.NewVirtualNetwork()
	clientBus := network.NewBus()
	peerBus := network.NewBus()
	require.Nil(t, clientBus.Connect())
	require.Nil(t, peerBus.Connect())
	t.Cleanup(func() {
		_ = clientBus.Disconnect()
		_ = peerBus.Disconnect()
	})
	bmClient, err := gosdo.NewBusManager(clientBus)
	require.Nil(t, err)
	bmPeer, err := gosdo.NewBusManager(peerBus)
	require.Nil(t, err)
	peer := &scriptedPeer{bm: bmPeer}
	require.Nil(t, bmPeer.Subscribe(0x600|testNodeId, gosdo.CanSffMask, peer))

	client, err := NewClient(bmClient, od.NewOD(), 0x01)
	require.Nil(t, err)
	require.Nil(t, client.AddServer(testNodeId))
	require.Nil(t, client.Init())
	return client, peer
}

func TestToggleViolationAborts(t *testing.T) {
	client, peer := newScriptedPair(t)
	peer.respond = func(frame gosdo.Frame) [][8]byte {
		switch frame.Data[0] & 0xE0 {
		case 0x20:
			// Ack the initiate
			return [][8]byte{encodeDownloadInitiateResponse(0x2002, 0)}
		case 0x00:
			// Answer the first segment with a flipped toggle bit
			return [][8]byte{{0x30}}
		}
		return nil
	}
	err := client.Download(DownloadRequest{
		ServerId: testNodeId,
		Index:    0x2002,
		Data:     "HelloWorld",
		DataType: od.VISIBLE_STRING,
		Timeout:  100 * time.Millisecond,
	})
	var sdoErr *Error
	require.ErrorAs(t, err, &sdoErr)
	assert.Equal(t, AbortToggleBit, sdoErr.Code)

	// The client must have emitted an abort frame for the peer
	time.Sleep(20 * time.Millisecond)
	frames := peer.frames()
	last := frames[len(frames)-1]
	assert.Equal(t, [8]byte{0x80, 0x02, 0x20, 0x00, 0x00, 0x00, 0x03, 0x05}, last.Data)
}

func TestUploadTimeout(t *testing.T) {
	client, peer := newScriptedPair(t)
	peer.respond = func(frame gosdo.Frame) [][8]byte {
		if frame.Data[0] == 0x40 {
			// Announce a segmented transfer then go silent
			return [][8]byte{encodeUploadSegmentedResponse(0x2006, 0, 70)}
		}
		return nil
	}
	start := time.Now()
	_, err := client.Upload(UploadRequest{
		ServerId: testNodeId,
		Index:    0x2006,
		Timeout:  50 * time.Millisecond,
	})
	elapsed := time.Since(start)
	var sdoErr *Error
	require.ErrorAs(t, err, &sdoErr)
	assert.Equal(t, AbortTimeout, sdoErr.Code)
	assert.Less(t, elapsed, 500*time.Millisecond)

	// An abort frame with the timeout code was emitted
	time.Sleep(20 * time.Millisecond)
	frames := peer.frames()
	last := frames[len(frames)-1]
	assert.EqualValues(t, 0x80, last.Data[0])
	assert.Equal(t, [8]byte{0x80, 0x06, 0x20, 0x00, 0x00, 0x00, 0x04, 0x05}, last.Data)
}

func TestServerRefusesBlockTransfer(t *testing.T) {
	// Block mode is recognized on the wire but refused with a bad command abort
	network := gosdo.NewVirtualNetwork()
	peerBus := network.NewBus()
	serverBus := network.NewBus()
	require.Nil(t, peerBus.Connect())
	require.Nil(t, serverBus.Connect())
	t.Cleanup(func() {
		_ = peerBus.Disconnect()
		_ = serverBus.Disconnect()
	})
	bmPeer, err := gosdo.NewBusManager(peerBus)
	require.Nil(t, err)
	bmServer, err := gosdo.NewBusManager(serverBus)
	require.Nil(t, err)

	server, err := NewServer(bmServer, newServerOD(t), testNodeId)
	require.Nil(t, err)
	require.Nil(t, server.AddClient(testNodeId))
	require.Nil(t, server.Init())

	peer := &scriptedPeer{bm: bmPeer}
	require.Nil(t, bmPeer.Subscribe(0x580|testNodeId, gosdo.CanSffMask, peer))

	// Block download initiate for x2001
	_ = bmPeer.Send(gosdo.Frame{ID: 0x600 | testNodeId, DLC: 8,
		Data: [8]byte{0xC2, 0x01, 0x20, 0x00, 0x0A, 0, 0, 0}})

	assert.Eventually(t, func() bool {
		frames := peer.frames()
		if len(frames) == 0 {
			return false
		}
		m := NewSDOMessage(frames[len(frames)-1].Data)
		return m.IsAbort() && m.GetAbortCode() == AbortCmd
	}, time.Second, 5*time.Millisecond)
}

func TestServerSegmentedDownloadTimeout(t *testing.T) {
	// A client that initiates a segmented download then goes silent must
	// observe a server side timeout abort
	network := gosdo.NewVirtualNetwork()
	peerBus := network.NewBus()
	serverBus := network.NewBus()
	require.Nil(t, peerBus.Connect())
	require.Nil(t, serverBus.Connect())
	t.Cleanup(func() {
		_ = peerBus.Disconnect()
		_ = serverBus.Disconnect()
	})
	bmPeer, err := gosdo.NewBusManager(peerBus)
	require.Nil(t, err)
	bmServer, err := gosdo.NewBusManager(serverBus)
	require.Nil(t, err)

	server, err := NewServer(bmServer, newServerOD(t), testNodeId)
	require.Nil(t, err)
	server.SetTimeout(50 * time.Millisecond)
	require.Nil(t, server.AddClient(testNodeId))
	require.Nil(t, server.Init())

	peer := &scriptedPeer{bm: bmPeer}
	require.Nil(t, bmPeer.Subscribe(0x580|testNodeId, gosdo.CanSffMask, peer))

	// Segmented download initiate for x2003, then nothing
	_ = bmPeer.Send(gosdo.Frame{ID: 0x600 | testNodeId, DLC: 8,
		Data: encodeDownloadInitiate(0x2003, 0, []byte("HelloWorld"))})

	assert.Eventually(t, func() bool {
		frames := peer.frames()
		if len(frames) < 2 {
			return false
		}
		m := NewSDOMessage(frames[len(frames)-1].Data)
		return m.IsAbort() && m.GetAbortCode() == AbortTimeout
	}, time.Second, 5*time.Millisecond)
}
