package gosdo

import (
	"time"

	"github.com/avast/retry-go"
	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// Basic wrapper around brutella/can as Bus implementation for linux socketcan.
// Adding a custom driver is possible by implementing the Bus interface.
type SocketcanBus struct {
	bus        *can.Bus
	rxCallback FrameListener
}

// "Connect" implementation of Bus interface
func (socketcan *SocketcanBus) Connect(...any) error {
	go socketcan.bus.ConnectAndPublish()
	return nil
}

// "Disconnect" implementation of Bus interface
func (socketcan *SocketcanBus) Disconnect() error {
	return socketcan.bus.Disconnect()
}

// "Send" implementation of Bus interface
func (socketcan *SocketcanBus) Send(frame Frame) error {
	return socketcan.bus.Publish(
		can.Frame{
			ID:     frame.ID,
			Length: frame.DLC,
			Flags:  0,
			Res0:   0,
			Res1:   0,
			Data:   frame.Data,
		})
}

// "Subscribe" implementation of Bus interface
func (socketcan *SocketcanBus) Subscribe(rxCallback FrameListener) error {
	socketcan.rxCallback = rxCallback
	// brutella/can defines a "Handle" interface for handling received CAN frames
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// brutella/can specific "Handle" implementation
func (socketcan *SocketcanBus) Handle(frame can.Frame) {
	// Convert brutella frame to gosdo frame
	socketcan.rxCallback.Handle(Frame{ID: frame.ID & CanSffMask, DLC: frame.Length, Data: frame.Data})
}

// openInterface opens a socketcan interface with a few retries, the
// interface might still be coming up when the process starts
func openInterface(name string) (*can.Bus, error) {
	var bus *can.Bus
	err := retry.Do(
		func() error {
			var err error
			bus, err = can.NewBusForInterfaceWithName(name)
			return err
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
	)
	return bus, err
}

// Create a new socketcan bus for the given interface name e.g. can0, vcan0
func NewSocketcanBus(name string) (*SocketcanBus, error) {
	bus, err := openInterface(name)
	if err != nil {
		log.Errorf("[SOCKETCAN] could not open interface %v : %v", name, err)
		return nil, err
	}
	return &SocketcanBus{bus: bus}, nil
}
