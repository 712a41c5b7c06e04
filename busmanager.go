package gosdo

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Received frame subscription. Object implements frame handler and
// can be any canopen service (SDO client, SDO server, ...)
type subscription struct {
	ident  uint32
	mask   uint32
	object FrameListener
}

// BusManager is responsible for using the Bus.
// It dispatches received frames to subscribed services by COB-ID
// and provides the transmit path.
type BusManager struct {
	mu            sync.RWMutex
	bus           Bus
	subscriptions []subscription
}

// Implements the Bus handle interface for processing a received CAN frame.
// Each frame is delivered exactly once to every matching subscription.
func (bm *BusManager) Handle(frame Frame) {
	bm.mu.RLock()
	subs := bm.subscriptions
	bm.mu.RUnlock()
	for _, sub := range subs {
		if (frame.ID^sub.ident)&sub.mask == 0 {
			sub.object.Handle(frame)
		}
	}
}

// Send a CAN frame on the bus, fire and forget
func (bm *BusManager) Send(frame Frame) error {
	return bm.bus.Send(frame)
}

// Subscribe a service to frames matching ident & mask.
// An existing subscription with the same ident & object is updated instead
// of appended, so services can be re-initialized without duplication.
func (bm *BusManager) Subscribe(ident uint32, mask uint32, object FrameListener) error {
	if object == nil {
		log.Error("[BUS] subscription needs a frame handler")
		return ErrIllegalArgument
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & CanSffMask
	mask = mask & CanSffMask
	for i, sub := range bm.subscriptions {
		if sub.ident == ident && sub.object == object {
			bm.subscriptions[i].mask = mask
			return nil
		}
	}
	bm.subscriptions = append(bm.subscriptions, subscription{ident: ident, mask: mask, object: object})
	return nil
}

// Unsubscribe removes any subscription matching ident & object
func (bm *BusManager) Unsubscribe(ident uint32, object FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & CanSffMask
	kept := bm.subscriptions[:0]
	for _, sub := range bm.subscriptions {
		if sub.ident != ident || sub.object != object {
			kept = append(kept, sub)
		}
	}
	bm.subscriptions = kept
}

// Bus returns the underlying CAN bus
func (bm *BusManager) Bus() Bus {
	return bm.bus
}

// Create a new BusManager attached to the given bus.
// The manager subscribes itself to all incoming traffic.
func NewBusManager(bus Bus) (*BusManager, error) {
	bm := &BusManager{bus: bus}
	if bus != nil {
		err := bus.Subscribe(bm)
		if err != nil {
			return nil, err
		}
	}
	return bm, nil
}
