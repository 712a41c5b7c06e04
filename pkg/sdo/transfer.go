package sdo

import (
	"time"
)

type transferResult struct {
	data []byte
	err  error
}

// transfer holds the state of one in-flight client transfer.
// It is exclusively owned by the client that created it and is only
// mutated under the client lock, in reaction to an inbound frame or to
// the expiry of its deadline timer.
type transfer struct {
	serverId uint8
	index    uint16
	subindex uint8
	// Upload accumulator
	buffer []byte
	// Download payload & send cursor
	data       []byte
	dataOffset int
	// Declared total size when known, running count otherwise
	size            uint32
	sizeIndicated   bool
	sizeTransferred uint32
	toggle          uint8
	timeout         time.Duration
	timer           *time.Timer
	cobIdTx         uint32
	cobIdRx         uint32
	state           internalState
	active          bool
	// One-shot completion sink
	done chan transferResult
	// Releases the per peer queue, set when the transfer is started
	complete func()
}

func newTransfer(serverId uint8, index uint16, subindex uint8, cobIdTx uint32, cobIdRx uint32, timeout time.Duration) *transfer {
	return &transfer{
		serverId: serverId,
		index:    index,
		subindex: subindex,
		cobIdTx:  cobIdTx,
		cobIdRx:  cobIdRx,
		timeout:  timeout,
		active:   true,
		done:     make(chan transferResult, 1),
	}
}

// start arms the deadline timer
func (t *transfer) start(onTimeout func()) {
	t.timer = time.AfterFunc(t.timeout, onTimeout)
}

// refresh restarts the deadline timer, called on every forward progress event
func (t *transfer) refresh() {
	if t.timer != nil {
		t.timer.Reset(t.timeout)
	}
}

// nextSegment returns the unsent part of the download payload, capped at
// one segment, and whether it is the last segment
func (t *transfer) nextSegment() (payload []byte, last bool) {
	remaining := len(t.data) - t.dataOffset
	if remaining > SegmentDataSize {
		return t.data[t.dataOffset : t.dataOffset+SegmentDataSize], false
	}
	return t.data[t.dataOffset:], true
}

// finish completes the transfer exactly once with either a result or an error
func (t *transfer) finish(result transferResult) {
	if !t.active {
		return
	}
	t.active = false
	t.state = stateIdle
	if t.timer != nil {
		t.timer.Stop()
	}
	t.done <- result
}
